package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/spf13/pflag"
	"github.com/teamloop/teamloop/api"
	"github.com/teamloop/teamloop/auth"
	"github.com/teamloop/teamloop/cache"
	"github.com/teamloop/teamloop/chat"
	"github.com/teamloop/teamloop/codesession"
	"github.com/teamloop/teamloop/config"
	"github.com/teamloop/teamloop/globals"
	"github.com/teamloop/teamloop/store"
	"github.com/teamloop/teamloop/ws"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")

	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
)

type server struct {
	hub      *ws.Hub
	resolver *auth.Resolver
	chats    *chat.Service
	sessions *codesession.Service
	store    store.Store
}

func main() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)

	flagSet := config.GetFlagSet()
	pflag.CommandLine.AddFlagSet(flagSet)
	pflag.Parse()

	cfg, err := config.ReadConfiguration(*configPath, flagSet)
	if err != nil {
		panic(err)
	}
	if cfg.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))
	}

	st, err := store.NewStore(cfg)
	if err != nil {
		panic(err)
	}
	defer st.Close()

	ca, err := cache.NewCache(cfg)
	if err != nil {
		panic(err)
	}
	defer ca.Close()

	hub := ws.NewHub()
	go hub.Run()

	chats := chat.NewService(st, ca, hub, cfg.Limits.PageSize)
	sessions := codesession.NewService(st, hub, cfg.Limits.DefaultMaxParticipants, cfg.Limits.PageSize)
	resolver := auth.NewResolver(cfg, st)

	srv := &server{hub: hub, resolver: resolver, chats: chats, sessions: sessions, store: st}

	router := mux.NewRouter()
	router.HandleFunc("/ws", srv.websocketHandler).Methods(http.MethodGet)
	api.New(chats, sessions, resolver, st, hub).Routes(router)

	go func() {
		<-c
		globals.AppLogger.Info("interrupted, shutting down")
		st.Close()
		ca.Close()
		os.Exit(0)
	}()

	globals.AppLogger.Info("listening", "addr", cfg.Server.Addr)
	if cfg.Server.SSLCert != "" && cfg.Server.SSLKey != "" {
		err = http.ListenAndServeTLS(cfg.Server.Addr, cfg.Server.SSLCert, cfg.Server.SSLKey, router)
	} else {
		err = http.ListenAndServe(cfg.Server.Addr, router)
	}
	globals.AppLogger.Error("stopped listening", "error", err)
}

// websocketHandler authenticates the handshake, upgrades the connection and
// hands it to the hub. The credential comes from the Authorization header or,
// for browser websocket clients that cannot set headers, the token query
// parameter. An unresolvable credential is rejected before any registration.
func (s *server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	vals := r.URL.Query()
	credential := vals.Get("token")
	if credential == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			credential = strings.TrimPrefix(h, "Bearer ")
		}
	}
	user, err := s.resolver.Resolve(r.Context(), credential, vals.Get("provider"))
	if err != nil {
		globals.AppLogger.Info("websocket handshake rejected", "error", err)
		w.WriteHeader(http.StatusUnauthorized)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}
	globals.AppLogger.Debug("websocket connected", "user", user.Id)

	doneChan := make(chan struct{})
	client := ws.NewClient(s.hub, conn, user, s.chats, s.sessions, doneChan)
	s.hub.Register(client)
	go client.ReadLoop()
	go client.WriteLoop()

	<-doneChan
	user.LastOnline = time.Now()
	if err := s.store.StoreUser(context.Background(), user); err != nil {
		globals.AppLogger.Warn("could not persist last online", "user", user.Id, "error", err)
	}
	globals.AppLogger.Debug("websocket closed", "user", user.Id)
}
