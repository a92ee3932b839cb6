package relay

import "errors"

var errNoHosts = errors.New("no relay hosts provided")
