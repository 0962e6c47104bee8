package main

import (
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/lmittmann/tint"

	"github.com/camsrv/rtspd"
	"github.com/camsrv/rtspd/pkg/auth"
	"github.com/camsrv/rtspd/pkg/headers"
)

func main() {
	configPath := flag.String("config", "configs/default.yaml", "path to configuration file")
	flag.Parse()

	cnf, err := loadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "err", err)
		os.Exit(1)
	}

	log := slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      cnf.slogLevel(),
		TimeFormat: time.RFC3339,
	}))
	slog.SetDefault(log)

	var users *auth.UserStore
	if cnf.Auth.Enabled {
		users = auth.NewUserStore(cnf.Auth.Realm)
		for _, u := range cnf.Auth.Users {
			if err := users.AddUser(u.User, u.Pass); err != nil {
				log.Error("failed to add user", "user", u.User, "err", err)
				os.Exit(1)
			}
		}
	}

	authMethod := headers.AuthDigestMD5
	if cnf.Auth.Method == "basic" {
		authMethod = headers.AuthBasic
	}

	s := &rtspd.Server{
		RTSPAddress:    cnf.RTSP.Address,
		MaxStreams:     cnf.RTSP.MaxStreams,
		MaxSessions:    cnf.RTSP.MaxSessions,
		SessionTimeout: cnf.sessionTimeout(),
		AudioEnabled:   cnf.Audio.Enabled,
		Users:          users,
		AuthMethod:     authMethod,
		Log:            log,
	}

	var sources []*deviceSource

	for i, entry := range cnf.Streams {
		video, err := openDeviceSource(entry.VideoDevice)
		if err != nil {
			log.Error("failed to open video source", "stream", i, "err", err)
			os.Exit(1)
		}
		sources = append(sources, video)

		var audio rtspd.FrameSource
		if entry.AudioDevice != "" {
			a, err := openDeviceSource(entry.AudioDevice)
			if err != nil {
				log.Error("failed to open audio source", "stream", i, "err", err)
				os.Exit(1)
			}
			sources = append(sources, a)
			audio = a
		}

		st, err := s.AddStream(video, audio)
		if err != nil {
			log.Error("failed to register stream", "stream", i, "err", err)
			os.Exit(1)
		}
		log.Info("stream registered", "path", st.Name(), "video", entry.VideoDevice,
			"audio", entry.AudioDevice)
	}

	if err := s.Start(); err != nil {
		log.Error("failed to start server", "err", err)
		os.Exit(1)
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigChan
	log.Info("received signal, shutting down", "signal", sig)

	s.Close()
	for _, src := range sources {
		src.Close() //nolint:errcheck
	}
	log.Info("shutdown complete")
}
