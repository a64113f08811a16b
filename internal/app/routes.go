package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"itemreminder/go-server/internal/geo"
	"itemreminder/go-server/internal/model"
	"itemreminder/go-server/internal/store"
)

func (a *App) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", a.handleHealthz)
	mux.HandleFunc("/readyz", a.handleReadyz)
	mux.HandleFunc("/ws", a.handleWS)
	mux.HandleFunc("/api/location", a.handleLocation)
	mux.HandleFunc("/api/items", a.handleItems)
	mux.HandleFunc("/api/items/", a.handleItem)
	mux.HandleFunc("/api/geofence", a.handleGeofences)
	mux.HandleFunc("/api/geofence/check-location", a.handleCheckLocation)
	mux.HandleFunc("/api/geofence/", a.handleGeofence)
	mux.HandleFunc("/api/alerts", a.handleAlerts)
	mux.HandleFunc("/api/alerts/", a.handleAlert)
	mux.HandleFunc("/api/readings", a.handleReadings)
	mux.HandleFunc("/api/users/me", a.handleUserMe)
	return mux
}

// userID extracts the caller identity established by the auth layer in front
// of this server.
func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-User-ID"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, map[string]string{"error": message})
}

func reqCtx(r *http.Request, d time.Duration) (context.Context, context.CancelFunc) {
	return context.WithTimeout(r.Context(), d)
}

func (a *App) handleHealthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "timestamp": time.Now().UTC()})
}

func (a *App) handleReadyz(w http.ResponseWriter, r *http.Request) {
	if a.store == nil || a.coordinator == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "starting"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"status":        "ready",
		"live_sessions": a.hub.SessionCount(),
	})
}

func (a *App) handleWS(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		// socket.io-style fallback for clients that cannot set headers
		uid = strings.TrimSpace(r.URL.Query().Get("user_id"))
	}
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user identity required")
		return
	}
	a.hub.HandleWS(w, r, uid)
}

func (a *App) handleLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user identity required")
		return
	}

	var req struct {
		Latitude  *float64   `json:"latitude"`
		Longitude *float64   `json:"longitude"`
		Accuracy  *float64   `json:"accuracy"`
		Timestamp *time.Time `json:"timestamp"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid payload")
		return
	}
	if req.Latitude == nil || req.Longitude == nil {
		writeError(w, http.StatusBadRequest, "latitude and longitude required")
		return
	}

	sample := model.LocationSample{
		UserID:    uid,
		Latitude:  *req.Latitude,
		Longitude: *req.Longitude,
		Accuracy:  req.Accuracy,
	}
	if req.Timestamp != nil {
		sample.Timestamp = req.Timestamp.UTC()
	}

	ctx, cancel := reqCtx(r, 10*time.Second)
	defer cancel()

	result, err := a.processLocation(ctx, sample)
	if err != nil {
		if errors.Is(err, geo.ErrInvalidCoordinate) {
			writeError(w, http.StatusBadRequest, "coordinates out of range")
			return
		}
		a.logger.Error("location update failed", "user", uid, "error", err)
		writeError(w, http.StatusInternalServerError, "failed to process location update")
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (a *App) handleItems(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user identity required")
		return
	}

	ctx, cancel := reqCtx(r, 5*time.Second)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		var items []model.Item
		var err error
		if fenceID := r.URL.Query().Get("geofence_id"); fenceID != "" {
			items, err = a.store.ActiveItemsForGeofence(ctx, uid, fenceID)
		} else {
			items, err = a.store.ItemsForUser(ctx, uid)
		}
		if err != nil {
			a.logger.Error("failed to load items", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to fetch items")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"items": items})
	case http.MethodPost:
		var item model.Item
		if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		item.UserID = uid
		if err := a.store.CreateItem(ctx, &item); err != nil {
			a.logger.Error("failed to create item", "error", err)
			writeError(w, http.StatusBadRequest, "failed to create item")
			return
		}
		writeJSON(w, http.StatusCreated, item)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *App) handleItem(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user identity required")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/items/")
	if cmd, ok := strings.CutSuffix(rest, "/command"); ok {
		a.handleItemCommand(w, r, uid, cmd)
		return
	}
	id := rest
	if id == "" {
		writeError(w, http.StatusBadRequest, "item id required")
		return
	}

	ctx, cancel := reqCtx(r, 5*time.Second)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		item, err := a.store.ItemByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) || (err == nil && item.UserID != uid) {
			writeError(w, http.StatusNotFound, "item not found")
			return
		}
		if err != nil {
			a.logger.Error("failed to load item", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to fetch item")
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodPut:
		var item model.Item
		if err := json.NewDecoder(r.Body).Decode(&item); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		item.ID = id
		item.UserID = uid
		if err := a.store.UpdateItem(ctx, &item); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "item not found")
				return
			}
			a.logger.Error("failed to update item", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update item")
			return
		}
		writeJSON(w, http.StatusOK, item)
	case http.MethodDelete:
		if err := a.store.DeactivateItem(ctx, id, uid); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "item not found")
				return
			}
			a.logger.Error("failed to deactivate item", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to delete item")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "item deactivated"})
	default:
		w.Header().Set("Allow", "GET, PUT, DELETE")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleItemCommand republishes a device command on the command channel,
// e.g. tare or recalibrate requests from the dashboard.
func (a *App) handleItemCommand(w http.ResponseWriter, r *http.Request, uid, itemID string) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	ctx, cancel := reqCtx(r, 5*time.Second)
	defer cancel()

	item, err := a.store.ItemByID(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && item.UserID != uid) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		a.logger.Error("failed to load item", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch item")
		return
	}

	var req struct {
		Command string          `json:"command"`
		Params  json.RawMessage `json:"params"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Command) == "" {
		writeError(w, http.StatusBadRequest, "command required")
		return
	}

	payload := map[string]any{
		"device_id": item.DeviceID,
		"command":   req.Command,
	}
	if len(req.Params) > 0 {
		payload["params"] = req.Params
	}

	if err := a.mqtt.Publish(a.cfg.CommandTopic, payload); err != nil {
		a.logger.Error("failed to publish device command", "device", item.DeviceID, "error", err)
		writeError(w, http.StatusServiceUnavailable, "failed to publish command")
		return
	}

	writeJSON(w, http.StatusAccepted, map[string]string{"status": "queued"})
}

func (a *App) handleGeofences(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user identity required")
		return
	}

	ctx, cancel := reqCtx(r, 5*time.Second)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		fences, err := a.store.ActiveGeofencesForUser(ctx, uid)
		if err != nil {
			a.logger.Error("failed to load geofences", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to fetch geofences")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"geofences": fences})
	case http.MethodPost:
		var g model.Geofence
		if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		if !(geo.Point{Lat: g.Latitude, Lon: g.Longitude}).Valid() {
			writeError(w, http.StatusBadRequest, "coordinates out of range")
			return
		}
		g.UserID = uid
		if err := a.store.CreateGeofence(ctx, &g); err != nil {
			a.logger.Error("failed to create geofence", "error", err)
			writeError(w, http.StatusBadRequest, "failed to create geofence")
			return
		}
		writeJSON(w, http.StatusCreated, g)
	default:
		w.Header().Set("Allow", "GET, POST")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *App) handleGeofence(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user identity required")
		return
	}

	id := strings.TrimPrefix(r.URL.Path, "/api/geofence/")
	if id == "" {
		writeError(w, http.StatusBadRequest, "geofence id required")
		return
	}

	ctx, cancel := reqCtx(r, 5*time.Second)
	defer cancel()

	switch r.Method {
	case http.MethodPut:
		var g model.Geofence
		if err := json.NewDecoder(r.Body).Decode(&g); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}
		if !(geo.Point{Lat: g.Latitude, Lon: g.Longitude}).Valid() {
			writeError(w, http.StatusBadRequest, "coordinates out of range")
			return
		}
		g.ID = id
		g.UserID = uid
		if err := a.store.UpdateGeofence(ctx, &g); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "geofence not found")
				return
			}
			a.logger.Error("failed to update geofence", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update geofence")
			return
		}
		writeJSON(w, http.StatusOK, g)
	case http.MethodDelete:
		if err := a.store.DeactivateGeofence(ctx, id, uid); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "geofence not found")
				return
			}
			a.logger.Error("failed to deactivate geofence", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to delete geofence")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "geofence deleted"})
	default:
		w.Header().Set("Allow", "PUT, DELETE")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleCheckLocation is a read-only containment check: it reports inside/
// outside and distance per zone without touching stored state.
func (a *App) handleCheckLocation(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user identity required")
		return
	}

	var req struct {
		Latitude  *float64 `json:"latitude"`
		Longitude *float64 `json:"longitude"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Latitude == nil || req.Longitude == nil {
		writeError(w, http.StatusBadRequest, "latitude and longitude required")
		return
	}

	p := geo.Point{Lat: *req.Latitude, Lon: *req.Longitude}
	if !p.Valid() {
		writeError(w, http.StatusBadRequest, "coordinates out of range")
		return
	}

	ctx, cancel := reqCtx(r, 5*time.Second)
	defer cancel()

	fences, err := a.store.ActiveGeofencesForUser(ctx, uid)
	if err != nil {
		a.logger.Error("failed to load geofences", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch geofences")
		return
	}

	type checkResult struct {
		GeofenceID     string  `json:"geofence_id"`
		Name           string  `json:"name"`
		IsInside       bool    `json:"is_inside"`
		DistanceMeters float64 `json:"distance_meters"`
	}

	results := make([]checkResult, 0, len(fences))
	for _, fence := range fences {
		center := geo.Point{Lat: fence.Latitude, Lon: fence.Longitude}
		distance, err := geo.DistanceMeters(p, center)
		if err != nil {
			continue
		}
		results = append(results, checkResult{
			GeofenceID:     fence.ID,
			Name:           fence.Name,
			IsInside:       distance <= fence.RadiusMeters,
			DistanceMeters: distance,
		})
	}

	writeJSON(w, http.StatusOK, map[string]any{"results": results})
}

func (a *App) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user identity required")
		return
	}

	filter := store.AlertFilter{
		ItemID: r.URL.Query().Get("item_id"),
		Type:   r.URL.Query().Get("type"),
	}
	if v := r.URL.Query().Get("read"); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			filter.Read = &parsed
		}
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			filter.Limit = parsed
		}
	}

	ctx, cancel := reqCtx(r, 5*time.Second)
	defer cancel()

	alerts, err := a.store.AlertsForUser(ctx, uid, filter)
	if err != nil {
		a.logger.Error("failed to load alerts", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch alerts")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"alerts": alerts})
}

func (a *App) handleAlert(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user identity required")
		return
	}

	rest := strings.TrimPrefix(r.URL.Path, "/api/alerts/")

	ctx, cancel := reqCtx(r, 5*time.Second)
	defer cancel()

	if id, ok := strings.CutSuffix(rest, "/read"); ok && r.Method == http.MethodPost {
		if err := a.store.MarkAlertRead(ctx, id, uid); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "alert not found")
				return
			}
			a.logger.Error("failed to mark alert read", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update alert")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "alert marked read"})
		return
	}

	if r.Method == http.MethodDelete {
		if err := a.store.DeleteAlert(ctx, rest, uid); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				writeError(w, http.StatusNotFound, "alert not found")
				return
			}
			a.logger.Error("failed to delete alert", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to delete alert")
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"message": "alert deleted"})
		return
	}

	writeError(w, http.StatusMethodNotAllowed, "method not allowed")
}

func (a *App) handleReadings(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.Header().Set("Allow", http.MethodGet)
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user identity required")
		return
	}

	itemID := r.URL.Query().Get("item_id")
	if itemID == "" {
		writeError(w, http.StatusBadRequest, "item_id required")
		return
	}

	limit := 50
	if v := r.URL.Query().Get("limit"); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			limit = parsed
		}
	}

	ctx, cancel := reqCtx(r, 5*time.Second)
	defer cancel()

	item, err := a.store.ItemByID(ctx, itemID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && item.UserID != uid) {
		writeError(w, http.StatusNotFound, "item not found")
		return
	}
	if err != nil {
		a.logger.Error("failed to load item", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch item")
		return
	}

	readings, err := a.store.RecentReadings(ctx, itemID, limit)
	if err != nil {
		a.logger.Error("failed to load readings", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch readings")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"readings": readings})
}

func (a *App) handleUserMe(w http.ResponseWriter, r *http.Request) {
	uid := userID(r)
	if uid == "" {
		writeError(w, http.StatusUnauthorized, "user identity required")
		return
	}

	ctx, cancel := reqCtx(r, 5*time.Second)
	defer cancel()

	switch r.Method {
	case http.MethodGet:
		user, err := a.store.UserByID(ctx, uid)
		if errors.Is(err, store.ErrNotFound) {
			writeError(w, http.StatusNotFound, "user not found")
			return
		}
		if err != nil {
			a.logger.Error("failed to load user", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to fetch user")
			return
		}
		writeJSON(w, http.StatusOK, user)
	case http.MethodPut:
		user, err := a.store.UserByID(ctx, uid)
		if errors.Is(err, store.ErrNotFound) {
			// First write provisions the record.
			user = &model.User{ID: uid, EmailNotifications: true, PushNotifications: true}
			if cerr := a.store.CreateUser(ctx, user); cerr != nil {
				a.logger.Error("failed to provision user", "error", cerr)
				writeError(w, http.StatusInternalServerError, "failed to update user")
				return
			}
		} else if err != nil {
			a.logger.Error("failed to load user", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to fetch user")
			return
		}

		var req struct {
			Email              *string `json:"email"`
			Name               *string `json:"name"`
			PushToken          *string `json:"push_token"`
			EmailNotifications *bool   `json:"email_notifications"`
			PushNotifications  *bool   `json:"push_notifications"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeError(w, http.StatusBadRequest, "invalid payload")
			return
		}

		if req.Email != nil {
			user.Email = *req.Email
		}
		if req.Name != nil {
			user.Name = *req.Name
		}
		if req.PushToken != nil {
			user.PushToken = *req.PushToken
		}
		if req.EmailNotifications != nil {
			user.EmailNotifications = *req.EmailNotifications
		}
		if req.PushNotifications != nil {
			user.PushNotifications = *req.PushNotifications
		}

		if err := a.store.UpdateUser(ctx, user); err != nil {
			a.logger.Error("failed to update user", "error", err)
			writeError(w, http.StatusInternalServerError, "failed to update user")
			return
		}
		writeJSON(w, http.StatusOK, user)
	default:
		w.Header().Set("Allow", "GET, PUT")
		writeError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}
