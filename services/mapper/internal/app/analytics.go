package app

import (
	"errors"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/example/anime-mapper/internal/platform/analytics"
)

const analyticsSubjects = "analytics.mapper.>"

// newAnalytics publishes through JetStream when a stream name is configured,
// creating the stream if needed, and on core NATS otherwise.
func newAnalytics(nc *nats.Conn, stream string, log *zap.Logger) (*analytics.Publisher, error) {
	if stream == "" {
		return analytics.NewCore(nc, log), nil
	}
	js, err := nc.JetStream()
	if err != nil {
		return nil, err
	}
	if err := ensureStream(js, stream); err != nil {
		return nil, err
	}
	return analytics.New(js, log), nil
}

func ensureStream(js nats.JetStreamContext, name string) error {
	info, err := js.StreamInfo(name)
	if err == nil {
		for _, s := range info.Config.Subjects {
			if s == analyticsSubjects {
				return nil
			}
		}
		cfg := info.Config
		cfg.Subjects = append(cfg.Subjects, analyticsSubjects)
		_, err := js.UpdateStream(&cfg)
		return err
	}
	if !errors.Is(err, nats.ErrStreamNotFound) {
		return err
	}
	_, err = js.AddStream(&nats.StreamConfig{
		Name:     name,
		Subjects: []string{analyticsSubjects},
		Storage:  nats.FileStorage,
		MaxAge:   7 * 24 * time.Hour,
	})
	return err
}
