// Mystery reveal game
//
// A host uploads an image and an answer, players join via a short game code,
// and the image is revealed in timed phases while players race to guess.
//
// Routes:
//   - POST $prefix/api/game/create     -> multipart create, returns {game_code, game_id}
//   - POST $prefix/api/game/join       -> resolve a game code to its id
//   - GET  $prefix/api/game/:id        -> full JSON snapshot
//   - GET  $prefix/api/game/:id/image  -> the uploaded image blob
//   - GET  $prefix/api/game/:id/qr     -> PNG QR code linking to the lobby
//   - GET  $prefix/api/game/:id/ws     -> websocket for joins, guesses and chat

package main

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/julienschmidt/httprouter"
	"github.com/skip2/go-qrcode"
)

const maxImageSize = 10 << 20

func httpStatusFor(err error) int {
	switch asGameError(err).Code {
	case CodeValidation:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusForbidden
	default:
		return http.StatusConflict
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, httpStatusFor(err), newErrorMessage(err))
}

func createGameHandler(cfg *Config, store *SessionStore, blobs *BlobStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		startTime := time.Now()

		if err := r.ParseMultipartForm(maxImageSize); err != nil {
			writeError(w, errValidation("invalid multipart form"))
			return
		}

		topic := strings.TrimSpace(r.FormValue("topic"))
		answer := strings.TrimSpace(r.FormValue("answer"))
		if topic == "" || answer == "" {
			writeError(w, errValidation("topic and answer are required"))
			return
		}

		wordCount, err := strconv.Atoi(r.FormValue("wordCount"))
		if err != nil || wordCount < 1 || wordCount > 5 {
			writeError(w, errValidation("wordCount must be between 1 and 5"))
			return
		}

		mode, err := parseGameMode(r.FormValue("gameMode"))
		if err != nil {
			writeError(w, err)
			return
		}

		file, header, err := r.FormFile("image")
		if err != nil {
			writeError(w, errValidation("image is required"))
			return
		}
		defer file.Close()

		ref, size, err := blobs.Put(file, header.Header.Get("Content-Type"))
		if err != nil {
			writeError(w, errValidation("failed to store image"))
			return
		}

		session := store.Create(SessionConfig{
			Mode:          mode,
			Topic:         topic,
			WordCount:     wordCount,
			Answer:        answer,
			ImageRef:      ref,
			Countdown:     cfg.countdown,
			PhaseLength:   cfg.phaseLength,
			Reveal:        defaultRevealSchedule(cfg.phases),
			Score:         defaultScorePolicy(cfg.phases),
			LobbyCapacity: cfg.lobbyCapacity,
			GraceWindow:   cfg.graceWindow,
			EntryFee:      cfg.entryFeeAmount(),
			HouseCutRate:  cfg.houseCutRate(),
		})

		logf(cfg, "SERVE: Created game %s (%s image) for %s in %s",
			session.code,
			humanReadableSize(size),
			realIP(r),
			time.Since(startTime).Round(time.Microsecond),
		)

		writeJSON(w, http.StatusOK, map[string]string{
			"game_code": session.code,
			"game_id":   session.id,
		})
	}
}

func joinGameHandler(store *SessionStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, _ httprouter.Params) {
		var body struct {
			GameCode string `json:"gameCode"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.GameCode == "" {
			writeError(w, errValidation("gameCode is required"))
			return
		}

		session, ok := store.ByCode(strings.ToUpper(strings.TrimSpace(body.GameCode)))
		if !ok {
			writeError(w, errNotFound("unknown game code"))
			return
		}

		writeJSON(w, http.StatusOK, map[string]string{
			"game_code": session.code,
			"game_id":   session.id,
		})
	}
}

func gameStateHandler(store *SessionStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		session, ok := store.Resolve(ps.ByName("id"))
		if !ok {
			writeError(w, errNotFound("unknown game"))
			return
		}

		writeJSON(w, http.StatusOK, session.Snapshot())
	}
}

func gameImageHandler(store *SessionStore, blobs *BlobStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		session, ok := store.Resolve(ps.ByName("id"))
		if !ok {
			writeError(w, errNotFound("unknown game"))
			return
		}

		data, contentType, err := blobs.Get(session.cfg.ImageRef)
		if err != nil {
			writeError(w, errNotFound("image not found"))
			return
		}

		w.Header().Set("Content-Type", contentType)
		_, _ = w.Write(data)
	}
}

// serveGameWS upgrades the connection, subscribes it to the session, and
// sends an initial snapshot for catch-up before entering the pumps.
func serveGameWS(cfg *Config, store *SessionStore, gw *Gateway) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		session, ok := store.Resolve(ps.ByName("id"))
		if !ok {
			writeError(w, errNotFound("unknown game"))
			return
		}

		playerID := getOrSetPlayerID(w, r)
		if playerID == "" {
			http.Error(w, "unable to assign player id", http.StatusInternalServerError)
			return
		}

		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Println("upgrade error:", err)
			return
		}

		client := newWsClient(conn, playerID)
		gw.subscribe(session.id, client)
		gw.sendToClient(session.id, client, session.Snapshot())

		go client.writePump()
		client.readPump(gw, session)
	}
}

// gameQRHandler generates a PNG QR code for the lobby URL using go-qrcode.
func gameQRHandler(store *SessionStore) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		session, ok := store.Resolve(ps.ByName("id"))
		if !ok {
			writeError(w, errNotFound("unknown game"))
			return
		}

		// Derive scheme (respecting TLS and X-Forwarded-Proto if present).
		scheme := "http"
		if r.TLS != nil {
			scheme = "https"
		}
		if proto := r.Header.Get("X-Forwarded-Proto"); proto != "" {
			scheme = proto
		}

		url := scheme + "://" + r.Host + "/game/private/lobby/" + session.code

		const qrSize = 320 // mobile-friendly size
		png, err := qrcode.Encode(url, qrcode.Medium, qrSize)
		if err != nil {
			http.Error(w, "qr generation failed", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write(png)
	}
}

// destroyCleanup disconnects a destroyed session's subscribers and removes
// its uploaded image.
func destroyCleanup(gw *Gateway, blobs *BlobStore) func(*Session) {
	return func(session *Session) {
		gw.dropSession(session.id)
		blobs.Delete(session.cfg.ImageRef)
	}
}

// registerRevealGame wires the game API routes.
func registerRevealGame(cfg *Config, mux *httprouter.Router) {
	gw := newGateway(cfg)
	blobs := newBlobStore(cfg)
	store := newSessionStore(cfg, realClock{}, gw)
	store.onDestroy = destroyCleanup(gw, blobs)

	if cfg.sessionTimeout > 0 {
		go store.reaperLoop(cfg.sessionTimeout)
	}

	mux.POST(cfg.prefix+"/api/game/create", createGameHandler(cfg, store, blobs))
	mux.POST(cfg.prefix+"/api/game/join", joinGameHandler(store))
	mux.GET(cfg.prefix+"/api/game/:id", gameStateHandler(store))
	mux.GET(cfg.prefix+"/api/game/:id/image", gameImageHandler(store, blobs))
	mux.GET(cfg.prefix+"/api/game/:id/qr", gameQRHandler(store))
	mux.GET(cfg.prefix+"/api/game/:id/ws", serveGameWS(cfg, store, gw))
}
