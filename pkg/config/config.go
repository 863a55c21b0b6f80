package config

import (
	"gopkg.in/fzerorubigd/onion.v3"
	"gopkg.in/fzerorubigd/onion.v3/extraenv"
)

/*
   Creation Time: 2021 - Aug - 04
   Created by:  (ehsan)
   Maintainers:
      1.  Ehsan N. Moosa (E2)
   Auditor: Ehsan N. Moosa (E2)
   Copyright Ronak Software Group 2020
*/

const (
	LogLevel   = "LOG_LEVEL"
	JobAddress = "JOB_ADDRESS"
	JobUser    = "JOB_USER"
	JobPass    = "JOB_PASS"
	RedisDSN   = "REDIS_DSN"

	FirebaseProjectsAPIKeys                 = "firebase-projects-api-keys"
	FirebaseServiceAccounts                  = "firebase-service-accounts"
	FirebaseDefaultRefreshInterval           = "firebase-default-refresh-interval"
	FirebaseTokenExpirationAnticipationTime = "firebase-token-expiration-anticipation-time"
	FirebaseTokenHelperPath                 = "FIREBASE_TOKEN_HELPER_PATH"

	ConferenceTransport = "transport"

	GenericClientURL      = "generic-client.url"
	GenericClientMethod   = "generic-client.method"
	GenericClientProtocol = "generic-client.protocol"

	PushIOSCertDir = "push-ios.certdir"
	PushIOSCAFile  = "push-ios.cafile"

	MaxQueueSize = "MAX_QUEUE_SIZE"
)

var (
	_Onion *onion.Onion
)

func init() {
	dl := onion.NewDefaultLayer()

	_ = dl.SetDefault(LogLevel, 2)
	_ = dl.SetDefault(JobAddress, "nats://localhost:4222")
	_ = dl.SetDefault(JobUser, "")
	_ = dl.SetDefault(JobPass, "")
	_ = dl.SetDefault(RedisDSN, "localhost:6379")

	_ = dl.SetDefault(FirebaseProjectsAPIKeys, []string{})
	_ = dl.SetDefault(FirebaseServiceAccounts, []string{})
	_ = dl.SetDefault(FirebaseDefaultRefreshInterval, 1800)
	_ = dl.SetDefault(FirebaseTokenExpirationAnticipationTime, 60)
	_ = dl.SetDefault(FirebaseTokenHelperPath, "/opt/flexipush/get-firebase-token.sh")

	_ = dl.SetDefault(ConferenceTransport, "sip:127.0.0.1:5060;transport=tcp")

	_ = dl.SetDefault(GenericClientURL, "")
	_ = dl.SetDefault(GenericClientMethod, "POST")
	_ = dl.SetDefault(GenericClientProtocol, "HTTP")

	_ = dl.SetDefault(PushIOSCertDir, "")
	_ = dl.SetDefault(PushIOSCAFile, "")

	_ = dl.SetDefault(MaxQueueSize, 100)

	_Onion = onion.New()
	_ = _Onion.AddLayer(dl)
	_Onion.AddLazyLayer(extraenv.NewExtraEnvLayer("FPN"))
}

func GetString(key string) string {
	return _Onion.GetString(key)
}

func GetStringSlice(key string) []string {
	return _Onion.GetStringSlice(key)
}

func GetInt(key string) int {
	return _Onion.GetInt(key)
}

func GetInt64(key string) int64 {
	return _Onion.GetInt64(key)
}

func GetBool(key string) bool {
	return _Onion.GetBool(key)
}
