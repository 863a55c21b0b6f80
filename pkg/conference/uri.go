package conference

import "regexp"

/*
   Creation Time: 2021 - Aug - 06
   Created by:  (ehsan)
   Maintainers:
      1.  Ehsan N. Moosa (E2)
   Auditor: Ehsan N. Moosa (E2)
   Copyright Ronak Software Group 2020
*/

// userPartRegex matches the user part of a sip/sips URI, i.e. the
// segment between the scheme and the "@host" portion. The allocator
// treats every other part of the URI as opaque; this is string
// template editing, not SIP semantic parsing.
var userPartRegex = regexp.MustCompile(`^(sips?:)([^@:;]*)(.*)$`)

// rewriteUserPart replaces uri's user part with newUser, leaving the
// scheme and the remainder of the URI untouched. If uri does not look
// like a sip/sips URI, newUser alone is returned and the rest of uri is
// dropped.
func rewriteUserPart(uri, newUser string) string {
	m := userPartRegex.FindStringSubmatch(uri)
	if m == nil {
		return newUser
	}
	return m[1] + newUser + m[3]
}
