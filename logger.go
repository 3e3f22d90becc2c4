package stampede

import "github.com/unkn0wn-root/stampede/log"

type (
	Fields    = log.Fields
	Logger    = log.Logger
	NopLogger = log.Nop
)
