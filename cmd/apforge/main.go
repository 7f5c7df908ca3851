// Command apforge runs the ActivityPub federation engine: HTTP server,
// inbox/outbox workers, and discovery endpoints.
package main

import (
	"flag"
	"log"
	"net/http"
	_ "net/http/pprof"

	"github.com/deemkeen/apforge/app"
	"github.com/deemkeen/apforge/applog"
	"github.com/deemkeen/apforge/config"
)

func main() {
	flag.Parse()

	conf, err := config.ReadConf()
	if err != nil {
		log.Fatalln(err)
	}

	applog.Setup(conf.Conf.LogLevel, conf.Conf.WithJournald)

	applog.Infof("%s starting, instance=%s", config.Name, conf.Conf.InstanceBaseUrl)

	if conf.Conf.WithPprof {
		go func() {
			applog.Infof("pprof server listening on localhost:6060")
			if err := http.ListenAndServe("localhost:6060", nil); err != nil {
				applog.Errorf("pprof server error: %v", err)
			}
		}()
	}

	application, err := app.New(conf)
	if err != nil {
		log.Fatalf("failed to create application: %v", err)
	}

	if err := application.Initialize(); err != nil {
		log.Fatalf("failed to initialize application: %v", err)
	}

	if err := application.Start(); err != nil {
		log.Fatalf("application error: %v", err)
	}
}
