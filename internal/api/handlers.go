package api

import (
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/bbernstein/hyperion-link-go/internal/database/models"
	"github.com/bbernstein/hyperion-link-go/internal/services/lights"
	"github.com/bbernstein/hyperion-link-go/internal/services/link"
	"github.com/bbernstein/hyperion-link-go/internal/services/wizard"
	"github.com/bbernstein/hyperion-link-go/internal/services/zone"
)

// Error codes returned in error bodies.
const (
	codeBadRequest      = "bad_request"
	codeNotFound        = "not_found"
	codeNotLoaded       = "not_loaded"
	codeInventoryFailed = "inventory_failed"
	codeInternal        = "internal"
)

type errorBody struct {
	Error   string `json:"error"`
	Message string `json:"message,omitempty"`
}

// EntryView is a stored entry with its runtime status, when loaded.
type EntryView struct {
	*models.LinkEntry
	Status *link.Status `json:"status,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("[api] Failed to write response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, errorBody{Error: code, Message: message})
}

func (h *Handler) view(entry *models.LinkEntry) EntryView {
	v := EntryView{LinkEntry: entry}
	if h.deps.Links != nil {
		if st, ok := h.deps.Links.Status(entry.ID); ok {
			v.Status = &st
		}
	}
	return v
}

func (h *Handler) listLights(w http.ResponseWriter, r *http.Request) {
	list, err := h.deps.Inventory.ListLights(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, codeInventoryFailed, err.Error())
		return
	}
	if list == nil {
		list = []lights.Light{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (h *Handler) beginFlow(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusCreated, h.deps.Wizard.Begin())
}

func (h *Handler) showFlow(w http.ResponseWriter, r *http.Request) {
	h.step(w, r, nil)
}

func (h *Handler) submitFlow(w http.ResponseWriter, r *http.Request) {
	input := wizard.Input{}
	if err := json.NewDecoder(r.Body).Decode(&input); err != nil && !errors.Is(err, io.EOF) {
		writeError(w, http.StatusBadRequest, codeBadRequest, "body must be a JSON object")
		return
	}
	if input == nil {
		input = wizard.Input{}
	}
	h.step(w, r, input)
}

func (h *Handler) step(w http.ResponseWriter, r *http.Request, input wizard.Input) {
	res, err := h.deps.Wizard.Step(r.Context(), chi.URLParam(r, "id"), input)
	if errors.Is(err, wizard.ErrSessionNotFound) {
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	status := http.StatusOK
	if res.Type == wizard.ResultCreateEntry {
		status = http.StatusCreated
	}
	writeJSON(w, status, res)
}

func (h *Handler) abandonFlow(w http.ResponseWriter, r *http.Request) {
	if !h.deps.Wizard.Abandon(chi.URLParam(r, "id")) {
		writeError(w, http.StatusNotFound, codeNotFound, wizard.ErrSessionNotFound.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// listEntries returns every stored entry, or those of one hub with ?hostname=.
func (h *Handler) listEntries(w http.ResponseWriter, r *http.Request) {
	var (
		entries []models.LinkEntry
		err     error
	)
	if hostname := r.URL.Query().Get("hostname"); hostname != "" {
		entries, err = h.deps.Entries.FindByHostname(r.Context(), hostname)
	} else {
		entries, err = h.deps.Entries.FindAll(r.Context())
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	views := make([]EntryView, len(entries))
	for i := range entries {
		views[i] = h.view(&entries[i])
	}
	writeJSON(w, http.StatusOK, views)
}

// findEntry loads the entry named in the URL or writes a 404.
func (h *Handler) findEntry(w http.ResponseWriter, r *http.Request) *models.LinkEntry {
	entry, err := h.deps.Entries.FindByID(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return nil
	}
	if entry == nil {
		writeError(w, http.StatusNotFound, codeNotFound, link.ErrEntryNotFound.Error())
		return nil
	}
	return entry
}

func (h *Handler) getEntry(w http.ResponseWriter, r *http.Request) {
	if entry := h.findEntry(w, r); entry != nil {
		writeJSON(w, http.StatusOK, h.view(entry))
	}
}

func (h *Handler) deleteEntry(w http.ResponseWriter, r *http.Request) {
	err := h.deps.Links.Remove(r.Context(), chi.URLParam(r, "id"))
	switch {
	case errors.Is(err, link.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
	default:
		w.WriteHeader(http.StatusNoContent)
	}
}

func (h *Handler) startEntry(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, true)
}

func (h *Handler) stopEntry(w http.ResponseWriter, r *http.Request) {
	h.setActive(w, r, false)
}

func (h *Handler) setActive(w http.ResponseWriter, r *http.Request, active bool) {
	entry := h.findEntry(w, r)
	if entry == nil {
		return
	}
	var (
		st  link.Status
		err error
	)
	if active {
		st, err = h.deps.Links.Start(r.Context(), entry.ID)
	} else {
		st, err = h.deps.Links.Stop(r.Context(), entry.ID)
	}
	switch {
	case errors.Is(err, link.ErrNotLoaded):
		writeError(w, http.StatusConflict, codeNotLoaded, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
	default:
		writeJSON(w, http.StatusOK, st)
	}
}

// reloadEntry re-reads an entry's stored lights into its running dispatcher.
func (h *Handler) reloadEntry(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	err := h.deps.Links.ReloadEntry(r.Context(), id)
	switch {
	case errors.Is(err, link.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
		return
	case errors.Is(err, link.ErrNotLoaded):
		writeError(w, http.StatusConflict, codeNotLoaded, err.Error())
		return
	case err != nil:
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
		return
	}
	if entry := h.findEntry(w, r); entry != nil {
		writeJSON(w, http.StatusOK, h.view(entry))
	}
}

func (h *Handler) listStatuses(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.deps.Links.Statuses())
}

// updateLights replaces an entry's zone assignment. Devices must be colour
// lights known to the inventory, and at least one must be assigned.
func (h *Handler) updateLights(w http.ResponseWriter, r *http.Request) {
	entry := h.findEntry(w, r)
	if entry == nil {
		return
	}

	var assignment zone.Assignment
	if err := json.NewDecoder(r.Body).Decode(&assignment); err != nil {
		writeError(w, http.StatusBadRequest, codeBadRequest, "body must map zones to light IDs")
		return
	}
	for id := range assignment {
		if !id.Valid() {
			writeError(w, http.StatusBadRequest, codeBadRequest, "unknown zone "+string(id))
			return
		}
	}
	assignment = assignment.Normalize()
	if len(assignment.Devices()) == 0 {
		writeError(w, http.StatusUnprocessableEntity, wizard.ErrorNoLightsEntered, "")
		return
	}

	all, err := h.deps.Inventory.ListLights(r.Context())
	if err != nil {
		writeError(w, http.StatusBadGateway, codeInventoryFailed, err.Error())
		return
	}
	known := make(map[string]bool)
	for _, l := range lights.ColorLights(all) {
		known[l.ID] = true
	}
	for _, d := range assignment.Devices() {
		if !known[d] {
			writeError(w, http.StatusUnprocessableEntity, wizard.ErrorInvalidLight, d)
			return
		}
	}

	updated, err := h.deps.Links.UpdateLights(r.Context(), entry.ID, assignment)
	switch {
	case errors.Is(err, link.ErrEntryNotFound):
		writeError(w, http.StatusNotFound, codeNotFound, err.Error())
	case err != nil:
		writeError(w, http.StatusInternalServerError, codeInternal, err.Error())
	default:
		writeJSON(w, http.StatusOK, h.view(updated))
	}
}
