package globals

import "github.com/hashicorp/go-hclog"

var AppLogger = hclog.New(&hclog.LoggerOptions{
	Name:  "hideout",
	Level: hclog.LevelFromString("INFO"),
})
