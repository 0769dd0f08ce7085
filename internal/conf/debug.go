package conf

import (
	"os"
	"strings"
)

func IsDebug() bool {
	name := strings.ToUpper(strings.ReplaceAll(APP_NAME, "-", "_"))
	return os.Getenv(name+"_DEBUG") == "true"
}
