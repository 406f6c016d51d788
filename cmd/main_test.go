package main

import (
	"bytes"
	"context"
	"net/http/httptest"
	"os"
	"strings"
	"testing"

	"github.com/smartystreets/goconvey/convey"

	"github.com/okian/ladder/internal/adapters/repository"
	"github.com/okian/ladder/internal/config"
	"github.com/okian/ladder/internal/fakeapi"
	"github.com/okian/ladder/pkg/metrics"
)

func setEnv(t *testing.T, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		t.Setenv(k, v)
	}
	if _, ok := kv["LADDER_CONFIG"]; !ok {
		_ = os.Unsetenv("LADDER_CONFIG")
	}
}

func TestCLI(t *testing.T) {
	convey.Convey("Given the ladder CLI", t, func() {
		app := newCLI()

		convey.Convey("Then it exposes serve and ingest", func() {
			convey.So(app.Command("serve"), convey.ShouldNotBeNil)
			convey.So(app.Command("ingest"), convey.ShouldNotBeNil)
		})

		convey.Convey("When ingest runs without a region", func() {
			var out bytes.Buffer
			app.Writer, app.ErrWriter = &out, &out
			err := app.Run([]string{"ladder", "ingest"})

			convey.Convey("Then the required flag is reported", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "region")
			})
		})
	})
}

func TestIngestCommand(t *testing.T) {
	srv := httptest.NewServer(fakeapi.Handler(fakeapi.NewGenerator(fakeapi.WithSize(1000))))
	defer srv.Close()

	setEnv(t, map[string]string{
		"LADDER_RANKING_URL":        srv.URL + fakeapi.Path,
		"LADDER_FETCH_RATE_PER_SEC": "0",
		"LADDER_LOG_LEVEL":          "error",
		"LADDER_TIMEZONE":           "UTC",
		"LADDER_METRICS_LABELS":     "deployment=cli",
	})

	convey.Convey("Given the ingest command against the fake ranking API", t, func() {
		app := newCLI()
		var out, errOut bytes.Buffer
		app.Writer, app.ErrWriter = &out, &errOut

		convey.Convey("When ingesting a known region", func() {
			err := app.Run([]string{"ladder", "ingest", "--region", "europe"})

			convey.Convey("Then the committed snapshot is reported", func() {
				convey.So(err, convey.ShouldBeNil)
				line := strings.TrimSpace(out.String())
				convey.So(line, convey.ShouldStartWith, "europe ")
				convey.So(line, convey.ShouldContainSubstring, "committed records=1000 chunks=3")
			})

			convey.Convey("Then the throwaway memory store is called out", func() {
				convey.So(errOut.String(), convey.ShouldContainSubstring, "store_driver=memory")
			})
		})

		convey.Convey("When ingesting an unknown region", func() {
			err := app.Run([]string{"ladder", "ingest", "--region", "atlantis"})

			convey.Convey("Then the command fails", func() {
				convey.So(err, convey.ShouldNotBeNil)
				convey.So(err.Error(), convey.ShouldContainSubstring, "fetch_failed")
			})

			convey.Convey("Then metrics carry the configured labels", func() {
				families, gerr := metrics.GetRegistry().Gather()
				convey.So(gerr, convey.ShouldBeNil)
				found := false
				for _, f := range families {
					if f.GetName() != "ladder_snapshots_fetch_errors_total" {
						continue
					}
					for _, l := range f.GetMetric()[0].GetLabel() {
						if l.GetName() == "deployment" && l.GetValue() == "cli" {
							found = true
						}
					}
				}
				convey.So(found, convey.ShouldBeTrue)
			})
		})
	})
}

func TestOpenGateway(t *testing.T) {
	convey.Convey("Given the memory driver", t, func() {
		cfg := config.New()
		gw, err := openGateway(context.Background(), cfg)

		convey.Convey("Then an in-memory store is returned", func() {
			convey.So(err, convey.ShouldBeNil)
			_, ok := gw.(*repository.MemStore)
			convey.So(ok, convey.ShouldBeTrue)
			convey.So(gw.Close(), convey.ShouldBeNil)
		})
	})
}

func TestUpdateSystemMetrics(t *testing.T) {
	convey.Convey("When system metrics are refreshed", t, func() {
		convey.So(updateSystemMetrics, convey.ShouldNotPanic)

		convey.Convey("Then the gauges are registered", func() {
			families, err := metrics.GetRegistry().Gather()
			convey.So(err, convey.ShouldBeNil)
			var names []string
			for _, f := range families {
				names = append(names, f.GetName())
			}
			convey.So(strings.Join(names, ","), convey.ShouldContainSubstring, "goroutine")
		})
	})
}
