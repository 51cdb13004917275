package config

import (
	"context"
	"fmt"
	"runtime"
)

func init() {
	if BoolValue("SOLARMON_DEBUG") {
		LogDebug(context.Background(), fmt.Sprintf("config.init(): %s/%s, broker %s",
			runtime.GOOS, runtime.GOARCH, StringValue("SOLARMON_BROKER_URL")))
	}
}
