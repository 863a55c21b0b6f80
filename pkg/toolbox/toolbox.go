package tools

/*
   Creation Time: 2018 - Apr - 07
   Created by:  Ehsan N. Moosa (ehsan)
   Maintainers:
       1.  Ehsan N. Moosa (ehsan)
   Auditor: Ehsan N. Moosa
   Copyright Ronak Software Group 2018
*/

// MS is a string-keyed, string-valued bag, used for the operator
// custom variables carried on a push.Info and expanded into a
// generic client's URL/body templates.
type MS map[string]string
