// Package server exposes the ingest and ops HTTP surface over chi.
package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/marketbridge/apsis-sync/internal/apiclient"
	"github.com/marketbridge/apsis-sync/internal/auth/token"
	"github.com/marketbridge/apsis-sync/internal/profile"
	"github.com/marketbridge/apsis-sync/internal/store"
	"github.com/marketbridge/apsis-sync/internal/version"
)

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, msg string) {
	respondJSON(w, status, map[string]interface{}{
		"error": map[string]string{"message": msg},
	})
}

// HealthzHandler reports liveness and the build version.
func HealthzHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{
			"status":  "ok",
			"version": version.Version,
		})
	}
}

// IngestCustomerHandler applies one customer change.
func IngestCustomerHandler(svc *profile.Service) http.HandlerFunc {
	type request struct {
		StoreID    uint   `json:"store_id"`
		CustomerID uint   `json:"customer_id"`
		Email      string `json:"email"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.StoreID == 0 || req.CustomerID == 0 || req.Email == "" {
			respondError(w, http.StatusBadRequest, "store_id, customer_id and email are required")
			return
		}

		ctx := profile.WithDedup(r.Context())
		p, err := svc.ApplyCustomer(ctx, req.StoreID, req.CustomerID, req.Email)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, p)
	}
}

// IngestSubscriberHandler applies one subscriber change.
func IngestSubscriberHandler(svc *profile.Service) http.HandlerFunc {
	type request struct {
		StoreID          uint   `json:"store_id"`
		SubscriberID     uint   `json:"subscriber_id"`
		Email            string `json:"email"`
		SubscriberStatus int    `json:"subscriber_status"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.StoreID == 0 || req.SubscriberID == 0 || req.Email == "" {
			respondError(w, http.StatusBadRequest, "store_id, subscriber_id and email are required")
			return
		}

		ctx := profile.WithDedup(r.Context())
		p, err := svc.ApplySubscriber(ctx, req.StoreID, req.SubscriberID, req.Email, req.SubscriberStatus)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, p)
	}
}

// IngestEventHandler records one behavioral event against an existing
// profile.
func IngestEventHandler(svc *profile.Service, profiles *store.ProfileStore) http.HandlerFunc {
	type request struct {
		StoreID    uint            `json:"store_id"`
		Email      string          `json:"email"`
		Type       int             `json:"type"`
		Payload    json.RawMessage `json:"payload"`
		SubPayload json.RawMessage `json:"sub_payload"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if req.StoreID == 0 || req.Email == "" || req.Type == 0 {
			respondError(w, http.StatusBadRequest, "store_id, email and type are required")
			return
		}

		p, err := profiles.GetByEmail(req.StoreID, req.Email)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		if p == nil {
			respondError(w, http.StatusNotFound, "no profile for that store and email")
			return
		}

		var payload interface{}
		if len(req.Payload) > 0 {
			if err := json.Unmarshal(req.Payload, &payload); err != nil {
				respondError(w, http.StatusBadRequest, "payload is not valid JSON")
				return
			}
		}
		var subPayload interface{}
		if len(req.SubPayload) > 0 {
			if err := json.Unmarshal(req.SubPayload, &subPayload); err != nil {
				respondError(w, http.StatusBadRequest, "sub_payload is not valid JSON")
				return
			}
		}

		ctx := profile.WithDedup(r.Context())
		svc.RecordEvent(ctx, p, req.Type, payload, subPayload)
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "recorded"})
	}
}

// ResetProfilesHandler moves matching profiles back to PENDING.
func ResetProfilesHandler(profiles *store.ProfileStore) http.HandlerFunc {
	type request struct {
		StoreIDs     []uint `json:"store_ids"`
		IDs          []uint `json:"ids"`
		StatusEquals *int   `json:"status_equals"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		n, err := profiles.ResetSyncStatus(store.ResetFilter{
			StoreIDs:     req.StoreIDs,
			IDs:          req.IDs,
			StatusEquals: req.StatusEquals,
		})
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]int64{"reset": n})
	}
}

// ResetEventsHandler moves matching FAILED events back to PENDING.
func ResetEventsHandler(events *store.EventStore) http.HandlerFunc {
	type request struct {
		StoreIDs []uint `json:"store_ids"`
		IDs      []uint `json:"ids"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		n, err := events.ResetFailed(store.EventResetFilter{StoreIDs: req.StoreIDs, IDs: req.IDs})
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]int64{"reset": n})
	}
}

// ResetBatchesHandler moves FAILED batches back to PENDING so the next cycle
// re-initializes their imports from the staged files.
func ResetBatchesHandler(batches *store.BatchStore) http.HandlerFunc {
	type request struct {
		StoreIDs []uint `json:"store_ids"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(req.StoreIDs) == 0 {
			respondError(w, http.StatusBadRequest, "store_ids is required")
			return
		}
		var total int64
		for _, storeID := range req.StoreIDs {
			n, err := batches.ResetFailed(storeID)
			if err != nil {
				respondError(w, http.StatusInternalServerError, err.Error())
				return
			}
			total += n
		}
		respondJSON(w, http.StatusOK, map[string]int64{"reset": total})
	}
}

// DeleteEventsHandler removes event rows by id.
func DeleteEventsHandler(events *store.EventStore) http.HandlerFunc {
	type request struct {
		IDs []uint `json:"ids"`
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var req request
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			respondError(w, http.StatusBadRequest, "invalid JSON body")
			return
		}
		if len(req.IDs) == 0 {
			respondError(w, http.StatusBadRequest, "ids is required")
			return
		}
		n, err := events.DeleteByIDs(req.IDs)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]int64{"deleted": n})
	}
}

// ListBatchesHandler lists import batches for a store, newest first.
func ListBatchesHandler(batches *store.BatchStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storeID, ok := queryUint(w, r, "store")
		if !ok {
			return
		}
		list, err := batches.ListByStore(storeID)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"batches": list})
	}
}

// ListProfilesHandler lists profiles for a store, optionally filtered by sync
// status.
func ListProfilesHandler(profiles *store.ProfileStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storeID, ok := queryUint(w, r, "store")
		if !ok {
			return
		}
		var status *int
		if raw := r.URL.Query().Get("status"); raw != "" {
			v, err := strconv.Atoi(raw)
			if err != nil {
				respondError(w, http.StatusBadRequest, "status must be an integer")
				return
			}
			status = &v
		}
		list, err := profiles.ListByStore(storeID, status)
		if err != nil {
			respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		respondJSON(w, http.StatusOK, map[string]interface{}{"profiles": list})
	}
}

// RunSyncHandler kicks off a sync pass in the background.
func RunSyncHandler(run func()) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		go run()
		respondJSON(w, http.StatusAccepted, map[string]string{"status": "sync started"})
	}
}

// SectionsHandler passes the remote section list through for mapping
// discovery.
func SectionsHandler(tokens *token.Manager, gateway *apiclient.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storeID, ok := queryUint(w, r, "store")
		if !ok {
			return
		}
		tok, ok := remoteToken(w, r, tokens, storeID)
		if !ok {
			return
		}
		list, res := gateway.GetSections(r.Context(), tok)
		if !passthrough(w, res) {
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}

// SectionAttributesHandler passes the attribute list of one section through.
func SectionAttributesHandler(tokens *token.Manager, gateway *apiclient.Client) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		storeID, ok := queryUint(w, r, "store")
		if !ok {
			return
		}
		section := chi.URLParam(r, "id")
		tok, ok := remoteToken(w, r, tokens, storeID)
		if !ok {
			return
		}
		list, res := gateway.GetAttributes(r.Context(), tok, section)
		if !passthrough(w, res) {
			return
		}
		respondJSON(w, http.StatusOK, list)
	}
}

func queryUint(w http.ResponseWriter, r *http.Request, name string) (uint, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		respondError(w, http.StatusBadRequest, name+" query parameter is required")
		return 0, false
	}
	v, err := strconv.ParseUint(raw, 10, 32)
	if err != nil {
		respondError(w, http.StatusBadRequest, name+" must be an integer")
		return 0, false
	}
	return uint(v), true
}

func remoteToken(w http.ResponseWriter, r *http.Request, tokens *token.Manager, storeID uint) (string, bool) {
	tok, err := tokens.GetToken(r.Context(), storeID)
	if errors.Is(err, token.ErrDisabled) || errors.Is(err, token.ErrMissingCredentials) {
		respondError(w, http.StatusConflict, err.Error())
		return "", false
	}
	if err != nil {
		respondError(w, http.StatusBadGateway, err.Error())
		return "", false
	}
	return tok, true
}

func passthrough(w http.ResponseWriter, res apiclient.Result) bool {
	switch res.Outcome {
	case apiclient.TransportFailure:
		respondError(w, http.StatusBadGateway, res.Message)
		return false
	case apiclient.RemoteError:
		respondError(w, http.StatusUnprocessableEntity, res.Message)
		return false
	}
	return true
}
