package peer

import (
	"github.com/go-cnote/cnoted/logger"
	"github.com/go-cnote/cnoted/logs"
	"github.com/go-cnote/cnoted/util/panics"
)

var log *logs.Logger

func init() {
	log, _ = logger.Get(logger.SubsystemTags.PEER)
}

var spawn = panics.GoroutineWrapperFunc(log)
