package builtin

import (
	"github.com/orgloop/orgloop/pkg/connector"
)

func init() {
	connector.RegisterSource("webhook", func() connector.Source { return &WebhookSource{} })
	connector.RegisterActor("http", func() connector.Actor { return &HTTPActor{} })
	connector.RegisterLogger("console", func() connector.Logger { return &ConsoleLogger{} })
	connector.RegisterLogger("file", func() connector.Logger { return &FileLogger{} })
}
