package main

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path"
	"strings"
	"time"

	"github.com/folkengine/goname"
	"github.com/gofrs/flock"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"github.com/hashicorp/go-hclog"
	"github.com/robfig/cron/v3"
	"github.com/spf13/pflag"

	"github.com/hideout-chat/hideout/auth"
	"github.com/hideout-chat/hideout/config"
	"github.com/hideout-chat/hideout/gateway"
	"github.com/hideout-chat/hideout/globals"
	"github.com/hideout-chat/hideout/realtime"
	"github.com/hideout-chat/hideout/storage"
	"github.com/hideout-chat/hideout/types"
)

var (
	configPath = pflag.StringP("config", "c", "", "path to config file or directory")
	addr       = pflag.String("addr", "localhost:8000", "service address (including port)")
	sslCert    = pflag.String("ssl-cert", "", "SSL cert (optional)")
	sslKey     = pflag.String("ssl-key", "", "SSL key (optional)")

	upgrader = websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool { return true },
	}
)

// server bundles the daemon's long-lived pieces for the HTTP handlers.
type server struct {
	cfg   *config.Config
	gw    gateway.Gateway
	hub   *realtime.Hub
	files storage.Store

	// publish is nil when postgres NOTIFY feeds the hub instead.
	publish func(*types.Event)
}

func main() {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt)
	go func() {
		<-c
		log.Fatal("interrupted!")
	}()

	pflag.CommandLine.AddFlagSet(config.GetFlagSet())
	pflag.Parse()
	log.SetFlags(0)

	cfg, err := config.ReadConfiguration(*configPath, pflag.CommandLine)
	if err != nil {
		panic(err)
	}
	if cfg.LogLevel != "" {
		globals.AppLogger.SetLevel(hclog.LevelFromString(cfg.LogLevel))
	}

	// Embedded backends cannot be shared between processes, guard the data
	// file with a lock.
	if cfg.GatewayConfig.Type != "postgres" && cfg.GatewayConfig.DSN != "" {
		fileLock := flock.New(cfg.GatewayConfig.DSN + ".lock")
		locked, err := fileLock.TryLock()
		if err != nil {
			panic(err)
		}
		if !locked {
			panic("data file is locked by another process")
		}
		defer fileLock.Unlock()
	}

	gw, err := gateway.NewGateway(cfg)
	if err != nil {
		panic(err)
	}
	defer gw.Close()

	hub := realtime.NewHub()
	srv := &server{cfg: cfg, gw: gw, hub: hub}

	if cfg.GatewayConfig.Type == "postgres" {
		listener, err := realtime.ListenPostgres(cfg.GatewayConfig.DSN, hub)
		if err != nil {
			panic(err)
		}
		defer listener.Close()
	} else {
		srv.publish = hub.Publish
	}

	if cfg.StorageConfig.Dir != "" {
		files, err := storage.NewDiskStore(cfg.StorageConfig.Dir, cfg.StorageConfig.BaseURL)
		if err != nil {
			panic(err)
		}
		srv.files = files
	}

	cronRunner := cron.New(cron.WithLocation(time.UTC), cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	_, err = cronRunner.AddFunc(cfg.InviteConfig.SweepSpec, func() {
		n, err := gw.SweepExpiredInvites(time.Now())
		if err != nil {
			globals.AppLogger.Error("invite sweep failed", "error", err)
			return
		}
		if n > 0 {
			globals.AppLogger.Info("deactivated expired invites", "count", n)
		}
	})
	if err != nil {
		panic(err)
	}
	cronRunner.Start()
	defer cronRunner.Stop()

	router := mux.NewRouter()
	router.HandleFunc("/realtime/{conversation}", srv.websocketHandler).Methods(http.MethodGet)
	router.HandleFunc("/conversations/{conversation}/messages", srv.listMessagesHandler).Methods(http.MethodGet)
	router.HandleFunc("/conversations/{conversation}/messages", srv.sendMessageHandler).Methods(http.MethodPost)
	router.HandleFunc("/invites/{code}", srv.invitePreviewHandler).Methods(http.MethodGet)
	router.HandleFunc("/invites/{code}/join", srv.inviteJoinHandler).Methods(http.MethodPost)
	router.HandleFunc("/signup", srv.signupHandler).Methods(http.MethodPost)
	router.HandleFunc("/files", srv.uploadHandler).Methods(http.MethodPost)
	if srv.files != nil {
		router.PathPrefix("/files/").Handler(http.StripPrefix("/files/", http.FileServer(http.Dir(cfg.StorageConfig.Dir))))
	}
	router.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})
	http.Handle("/", router)

	globals.AppLogger.Info("listening", "addr", *addr)
	if *sslCert != "" && *sslKey != "" {
		err = http.ListenAndServeTLS(*addr, *sslCert, *sslKey, nil)
	} else {
		err = http.ListenAndServe(*addr, nil)
	}
	globals.AppLogger.Error("stopped listening", "error", err)
}

// authenticateEmail verifies the request's ID token and returns the email
// claim. The token and provider come from the query (websocket clients) or
// headers.
func (s *server) authenticateEmail(r *http.Request) (string, error) {
	idToken := r.URL.Query().Get("id_token")
	provider := r.URL.Query().Get("provider")
	if idToken == "" {
		if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
			idToken = strings.TrimPrefix(h, "Bearer ")
		}
		if provider == "" {
			provider = r.Header.Get("X-Oidc-Provider")
		}
	}
	email, err := auth.Authenticate(r.Context(), idToken, provider, s.cfg)
	if err != nil || email == "" {
		return "", gateway.ErrForbidden
	}
	return email, nil
}

// authenticate resolves the request's ID token to a stored user.
func (s *server) authenticate(r *http.Request) (*types.User, error) {
	email, err := s.authenticateEmail(r)
	if err != nil {
		return nil, err
	}
	return s.gw.GetUserByEmail(email)
}

func (s *server) member(conversationId, userId string) (*types.ConversationMember, error) {
	members, err := s.gw.GetMembers([]string{conversationId})
	if err != nil {
		return nil, err
	}
	for _, m := range members {
		if m.UserId == userId {
			return m, nil
		}
	}
	return nil, gateway.ErrNotFound
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		globals.AppLogger.Error("could not write response", "error", err)
	}
}

func writeError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, gateway.ErrNotFound):
		http.Error(w, "not found", http.StatusNotFound)
	case errors.Is(err, gateway.ErrForbidden):
		http.Error(w, "forbidden", http.StatusForbidden)
	case errors.Is(err, gateway.ErrInvalidInvite):
		http.Error(w, "invite not redeemable", http.StatusGone)
	default:
		globals.AppLogger.Error("request failed", "error", err)
		http.Error(w, "internal error", http.StatusInternalServerError)
	}
}

// Handle incoming websocket subscriptions.
func (s *server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	convId := vars["conversation"]
	if convId == "" {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	user, err := s.authenticate(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	conv := &types.Conversation{Id: convId}
	if err := s.gw.GetConversation(conv); err != nil {
		writeError(w, err)
		return
	}
	if _, err := s.member(convId, user.Id); err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}

	sub, err := s.hub.Subscribe(convId, r.URL.Query().Get("filter"))
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		sub.Close()
		globals.AppLogger.Error("websocket upgrade error", "error", err)
		return
	}
	defer conn.Close() //nolint

	doneChan := make(chan struct{})
	client := realtime.NewClient(conn, user, conv, s.gw, sub, s.publish, doneChan)
	client.Add(3)
	go client.ForwardLoop()
	go client.ReadLoop()
	go client.WriteLoop()
	<-doneChan
	client.Wait()
	globals.AppLogger.Debug("ws handler done", "conversation", convId, "user", user.Id)
}

func (s *server) listMessagesHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	convId := mux.Vars(r)["conversation"]
	if _, err := s.member(convId, user.Id); err != nil {
		w.WriteHeader(http.StatusForbidden)
		return
	}
	messages, err := s.gw.GetMessages(convId, s.cfg.SyncConfig.MessageFetchLimit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (s *server) sendMessageHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	convId := mux.Vars(r)["conversation"]
	sendMsg := types.SendMessage{}
	if err := json.NewDecoder(r.Body).Decode(&sendMsg); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	msg := &types.Message{
		ConversationId: convId,
		SenderId:       user.Id,
		Content:        sendMsg.Content,
		ImageUrl:       sendMsg.ImageUrl,
	}
	if err := s.gw.StoreMessage(msg); err != nil {
		writeError(w, err)
		return
	}
	if s.publish != nil {
		s.publish(types.NewMessageEvent(msg))
	}
	writeJSON(w, http.StatusCreated, msg)
}

func (s *server) invitePreviewHandler(w http.ResponseWriter, r *http.Request) {
	code := mux.Vars(r)["code"]
	summary, err := s.gw.GetConversationByInviteCode(code)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (s *server) inviteJoinHandler(w http.ResponseWriter, r *http.Request) {
	user, err := s.authenticate(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	code := mux.Vars(r)["code"]
	convId, err := s.gw.JoinConversationByInvite(code, user.Id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"conversation_id": convId})
}

// signupHandler creates a profile for a verified email. A redeemable
// community invite code is consumed in the process, this is the invite-only
// door into the system.
func (s *server) signupHandler(w http.ResponseWriter, r *http.Request) {
	email, err := s.authenticateEmail(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	if _, err := s.gw.GetUserByEmail(email); err == nil {
		http.Error(w, "profile exists", http.StatusConflict)
		return
	} else if !errors.Is(err, gateway.ErrNotFound) {
		writeError(w, err)
		return
	}
	req := struct {
		InviteCode string `json:"invite_code"`
		Nickname   string `json:"nickname"`
		AvatarUrl  string `json:"avatar_url"`
	}{}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	used, err := s.gw.UseInviteCode(req.InviteCode)
	if err != nil {
		writeError(w, err)
		return
	}
	if !used {
		writeError(w, gateway.ErrInvalidInvite)
		return
	}
	nick := req.Nickname
	if nick == "" {
		nick = goname.New(goname.FantasyMap).FirstLast()
	}
	user := types.User{
		Id:        uuid.NewString(),
		Email:     email,
		Nickname:  nick,
		AvatarUrl: req.AvatarUrl,
		Role:      types.UserRoleMember,
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	if err := s.gw.StoreUser(user); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, &user)
}

func (s *server) uploadHandler(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		http.Error(w, "storage not configured", http.StatusNotImplemented)
		return
	}
	user, err := s.authenticate(r)
	if err != nil {
		w.WriteHeader(http.StatusUnauthorized)
		return
	}
	r.Body = http.MaxBytesReader(w, r.Body, storage.MaxUploadSize)
	if err := r.ParseMultipartForm(storage.MaxUploadSize); err != nil {
		http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
		return
	}
	file, header, err := r.FormFile("file")
	if err != nil {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	defer file.Close()

	var objectPath string
	switch r.FormValue("kind") {
	case "avatar":
		objectPath = storage.AvatarPath(user.Id, path.Ext(header.Filename))
	default:
		convId := r.FormValue("conversation_id")
		if convId == "" {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		if _, err := s.member(convId, user.Id); err != nil {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		objectPath = storage.MessageImagePath(user.Id, convId, header.Filename)
	}
	url, err := s.files.Upload(objectPath, file, true)
	if err != nil {
		if errors.Is(err, storage.ErrTooLarge) {
			http.Error(w, "upload too large", http.StatusRequestEntityTooLarge)
			return
		}
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"url": url})
}
