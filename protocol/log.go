package protocol

import (
	"github.com/go-cnote/cnoted/logger"
	"github.com/go-cnote/cnoted/logs"
)

var log *logs.Logger

func init() {
	log, _ = logger.Get(logger.SubsystemTags.PRTC)
}
