package main

import (
	"context"
	"encoding/json"
	"os"
	"os/signal"
	"syscall"
	"time"

	"git.ronaksoft.com/flexipush/core/pkg/cache"
	"git.ronaksoft.com/flexipush/core/pkg/conference"
	"git.ronaksoft.com/flexipush/core/pkg/conference/registrar"
	"git.ronaksoft.com/flexipush/core/pkg/config"
	"git.ronaksoft.com/flexipush/core/pkg/log"
	"git.ronaksoft.com/flexipush/core/pkg/push"
	"git.ronaksoft.com/flexipush/core/pkg/push/apple"
	"git.ronaksoft.com/flexipush/core/pkg/push/firebase"
	"git.ronaksoft.com/flexipush/core/pkg/push/firebasev1"
	"git.ronaksoft.com/flexipush/core/pkg/push/generic"
	"git.ronaksoft.com/flexipush/core/pkg/tokenmanager"
	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

/*
   Creation Time: 2021 - Aug - 06
   Created by:  (ehsan)
   Maintainers:
      1.  Ehsan N. Moosa (E2)
   Auditor: Ehsan N. Moosa (E2)
   Copyright Ronak Software Group 2020
*/

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "start the push dispatch and conference allocation daemon",
	Run: func(cmd *cobra.Command, args []string) {
		serve()
	},
}

func serve() {
	log.SetLevel(zapcore.Level(config.GetInt(config.LogLevel)))

	cacheManager, err := cache.New(config.GetString(config.RedisDSN))
	if err != nil {
		log.Fatal("cannot connect to redis", zap.Error(err))
	}
	defer cacheManager.Close()

	pingCtx, cancelPing := context.WithTimeout(context.Background(), 5*time.Second)
	if err := cacheManager.Ping(pingCtx); err != nil {
		cancelPing()
		log.Fatal("redis ping failed", zap.Error(err))
	}
	cancelPing()

	natsConn, err := nats.Connect(
		config.GetString(config.JobAddress),
		nats.UserInfo(config.GetString(config.JobUser), config.GetString(config.JobPass)),
	)
	if err != nil {
		log.Fatal("cannot connect to nats", zap.Error(err))
	}
	defer natsConn.Close()

	sink := &natsInvalidationSink{conn: natsConn}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	maxQueueSize := config.GetInt(config.MaxQueueSize)
	service := buildPushService(ctx, sink, maxQueueSize)

	reg := registrar.New(cacheManager)
	binder := &natsConferenceBinder{conn: natsConn, registrar: reg}

	subscribeControlBus(natsConn, service, reg, binder)

	exitCh := make(chan os.Signal, 1)
	signal.Notify(exitCh, syscall.SIGTERM, syscall.SIGINT)
	<-exitCh
}

// buildPushService wires every configured provider client into a
// fresh push.Service, matching the resolution order and setup
// sequence of spec.md §4.1.
func buildPushService(ctx context.Context, sink push.InvalidationSink, maxQueueSize int) *push.Service {
	service := push.New()

	certDir := config.GetString(config.PushIOSCertDir)
	if certDir != "" {
		err := service.SetupIOSClients(certDir, config.GetString(config.PushIOSCAFile),
			func(name, certFile, caFile string) (push.Client, error) {
				return apple.New(name, certFile, caFile, maxQueueSize, sink)
			},
		)
		if err != nil {
			log.Fatal("setting up iOS clients failed", zap.Error(err))
		}
	}

	err := service.SetupFirebaseClients(
		config.GetStringSlice(config.FirebaseProjectsAPIKeys),
		config.GetStringSlice(config.FirebaseServiceAccounts),
		func(appID, apiKey string) (push.Client, error) {
			return firebase.New(appID, apiKey, maxQueueSize, sink)
		},
		func(appID, serviceAccountPath string) (push.Client, error) {
			return newFirebaseV1Client(ctx, appID, serviceAccountPath, sink, maxQueueSize)
		},
	)
	if err != nil {
		log.Fatal("setting up firebase clients failed", zap.Error(err))
	}

	if url := config.GetString(config.GenericClientURL); url != "" {
		err := service.SetupGenericClient(
			url,
			config.GetString(config.GenericClientMethod),
			config.GetString(config.GenericClientProtocol),
			func(url, method, protocol string, lookup push.Registry) (push.Client, error) {
				return generic.New(url, method, protocol, lookup, maxQueueSize)
			},
		)
		if err != nil {
			log.Fatal("setting up generic client failed", zap.Error(err))
		}
	}

	return service
}

// newFirebaseV1Client loads the service account's project id, starts
// its dedicated TokenManager, and builds the v1 client bound to it.
func newFirebaseV1Client(ctx context.Context, appID, serviceAccountPath string, sink push.InvalidationSink, maxQueueSize int) (push.Client, error) {
	projectID, err := readProjectID(serviceAccountPath)
	if err != nil {
		return nil, err
	}

	tm, err := tokenmanager.New(
		serviceAccountPath,
		config.GetString(config.FirebaseTokenHelperPath),
		time.Duration(config.GetInt64(config.FirebaseDefaultRefreshInterval))*time.Second,
		time.Duration(config.GetInt64(config.FirebaseTokenExpirationAnticipationTime))*time.Second,
	)
	if err != nil {
		return nil, err
	}
	go tm.Run(ctx)

	return firebasev1.New(appID, projectID, tm, maxQueueSize, sink)
}

func readProjectID(serviceAccountPath string) (string, error) {
	raw, err := os.ReadFile(serviceAccountPath)
	if err != nil {
		return "", err
	}
	var doc struct {
		ProjectID string `json:"project_id"`
	}
	if err := json.Unmarshal(raw, &doc); err != nil {
		return "", err
	}
	return doc.ProjectID, nil
}

// natsInvalidationSink publishes a device-token invalidation to the
// control bus for the enclosing device-table owner to consume.
type natsInvalidationSink struct {
	conn *nats.Conn
}

func (s *natsInvalidationSink) InvalidateToken(appID, deviceToken string) {
	payload, _ := json.Marshal(map[string]string{"appId": appID, "deviceToken": deviceToken})
	if err := s.conn.Publish("PUSH.Invalidated", payload); err != nil {
		log.Warn("failed publishing token invalidation", zap.Error(err))
	}
}

// natsConferenceBinder asks the enclosing conference/SIP collaborator
// to bind a URI by making a NATS request, then reads the registrar
// back for the record the allocator needs. The reply itself is
// unused beyond signalling completion; Fetch is the source of truth.
type natsConferenceBinder struct {
	conn      *nats.Conn
	registrar *registrar.Manager
}

type bindRequest struct {
	URI       string `json:"uri"`
	Transport string `json:"transport"`
	UUID      string `json:"uuid"`
}

func (b *natsConferenceBinder) Bind(ctx context.Context, uri, transport, uuid string) (*conference.Record, error) {
	payload, err := json.Marshal(bindRequest{URI: uri, Transport: transport, UUID: uuid})
	if err != nil {
		return nil, err
	}

	if _, err := b.conn.RequestWithContext(ctx, "CONF.Bind", payload); err != nil {
		return nil, err
	}

	return b.registrar.Fetch(ctx, uri)
}

// pushEnvelope is the wire shape of one PUSH.Send request.
type pushEnvelope struct {
	AppID        string                     `json:"appId"`
	Type         push.Type                  `json:"type"`
	CallerName   string                     `json:"callerName"`
	Badge        *int                       `json:"badge,omitempty"`
	CustomVars   map[string]string          `json:"customVars,omitempty"`
	TTL          int                        `json:"ttl,omitempty"`
	CollapseKey  string                     `json:"collapseKey,omitempty"`
	EventID      string                     `json:"eventId,omitempty"`
	Destinations map[push.Type]push.Destination `json:"destinations"`
}

// allocateEnvelope is the wire shape of one CONF.Allocate request.
type allocateEnvelope struct {
	CandidateURI string `json:"candidateUri"`
	DeviceUUID   string `json:"deviceUuid,omitempty"`
}

func subscribeControlBus(conn *nats.Conn, service *push.Service, reg *registrar.Manager, binder conference.ConferenceBinder) {
	_, err := conn.Subscribe("PUSH.Send", func(msg *nats.Msg) {
		var env pushEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Warn("malformed PUSH.Send message", zap.Error(err))
			return
		}

		info, err := push.NewInfo(env.AppID, env.Type, env.Destinations)
		if err != nil {
			log.Warn("invalid push info", zap.Error(err))
			return
		}
		info.CallerName = env.CallerName
		info.Badge = env.Badge
		info.CustomVars = env.CustomVars
		info.TTL = env.TTL
		info.CollapseKey = env.CollapseKey
		info.EventID = env.EventID

		req, err := service.MakeRequest(env.Type, info)
		if err != nil {
			log.Warn("could not build push request", zap.Error(err))
			return
		}
		if err := service.SendPush(req); err != nil {
			log.Warn("could not send push", zap.Error(err))
		}
	})
	if err != nil {
		log.Fatal("subscribing to PUSH.Send failed", zap.Error(err))
	}

	_, err = conn.Subscribe("CONF.Allocate", func(msg *nats.Msg) {
		var env allocateEnvelope
		if err := json.Unmarshal(msg.Data, &env); err != nil {
			log.Warn("malformed CONF.Allocate message", zap.Error(err))
			return
		}

		deviceUUID := env.DeviceUUID
		if deviceUUID == "" {
			deviceUUID = uuid.NewString()
		}

		room := &natsChatRoom{conn: conn, candidateURI: env.CandidateURI}
		a := conference.New(reg, binder, room, config.GetString(config.ConferenceTransport), deviceUUID)

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := a.Allocate(ctx, env.CandidateURI); err != nil {
			log.Warn("conference allocation failed", zap.String("uri", env.CandidateURI), zap.Error(err))
		}
	})
	if err != nil {
		log.Fatal("subscribing to CONF.Allocate failed", zap.Error(err))
	}
}

// natsChatRoom publishes the allocator's outcome back onto the
// control bus; the actual chat-room object lives in the enclosing SIP
// proxy, which this module never holds a reference to.
type natsChatRoom struct {
	conn         *nats.Conn
	candidateURI string
}

func (r *natsChatRoom) SetConferenceAddress(gruu string) {
	payload, _ := json.Marshal(map[string]string{"candidateUri": r.candidateURI, "gruu": gruu})
	if err := r.conn.Publish("CONF.Allocated", payload); err != nil {
		log.Warn("failed publishing conference address", zap.Error(err))
	}
}
