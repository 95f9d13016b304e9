package ipam

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"nsot/internal/models"

	"github.com/gorilla/mux"
)

type HTTP struct{ repo *Repo }

func NewHTTP(r *Repo) *HTTP { return &HTTP{repo: r} }

func (h *HTTP) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1/ipam").Subrouter()

	// Namespaces
	api.HandleFunc("/namespaces", h.createNamespace).Methods(http.MethodPost)
	api.HandleFunc("/namespaces", h.listNamespaces).Methods(http.MethodGet)
	api.HandleFunc("/namespaces/{id}/ip-addresses", h.namespaceIPs).Methods(http.MethodGet)

	// Prefixes
	api.HandleFunc("/prefixes", h.createPrefix).Methods(http.MethodPost)
	api.HandleFunc("/prefixes", h.listPrefixes).Methods(http.MethodGet)
	api.HandleFunc("/prefixes/{id}", h.getPrefix).Methods(http.MethodGet)
	api.HandleFunc("/prefixes/{id}", h.updatePrefix).Methods(http.MethodPut)
	api.HandleFunc("/prefixes/{id}", h.deletePrefix).Methods(http.MethodDelete)
	api.HandleFunc("/prefixes/{id}/available-prefixes", h.availablePrefixes).Methods(http.MethodGet)
	api.HandleFunc("/prefixes/{id}/available-ips", h.availableIPs).Methods(http.MethodGet)
	api.HandleFunc("/prefixes/{id}/utilization", h.utilization).Methods(http.MethodGet)
	api.HandleFunc("/prefixes/{id}/ancestors", h.ancestors).Methods(http.MethodGet)
	api.HandleFunc("/prefixes/{id}/descendants", h.descendants).Methods(http.MethodGet)
}

func pathID(r *http.Request) (uint, bool) {
	idU, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil || idU == 0 {
		return 0, false
	}
	return uint(idU), true
}

// statusFor переводит validation-ошибки репозитория в HTTP-коды.
func statusFor(err error) int {
	switch {
	case errors.Is(err, ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, ErrDuplicate), errors.Is(err, ErrProtected):
		return http.StatusConflict
	default:
		return http.StatusBadRequest
	}
}

func writeErr(w http.ResponseWriter, err error) {
	http.Error(w, err.Error(), statusFor(err))
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

type prefixOut struct {
	ID           uint    `json:"id"`
	UUID         string  `json:"uuid"`
	Prefix       string  `json:"prefix"`
	NamespaceID  uint    `json:"namespace_id"`
	ParentID     *uint   `json:"parent_id"`
	PrefixLength int     `json:"prefix_length"`
	IPVersion    int     `json:"ip_version"`
	Type         string  `json:"type"`
	Status       string  `json:"status,omitempty"`
	Role         string  `json:"role,omitempty"`
	Tenant       string  `json:"tenant,omitempty"`
	Description  string  `json:"description,omitempty"`
}

func prefixView(p *models.Prefix) prefixOut {
	return prefixOut{
		ID:           p.ID,
		UUID:         p.UUID,
		Prefix:       PrefixString(p),
		NamespaceID:  p.NamespaceID,
		ParentID:     p.ParentID,
		PrefixLength: p.PrefixLength,
		IPVersion:    p.IPVersion,
		Type:         p.Type,
		Status:       p.Status,
		Role:         p.Role,
		Tenant:       p.Tenant,
		Description:  p.Description,
	}
}

func prefixViews(ps []models.Prefix) []prefixOut {
	out := make([]prefixOut, 0, len(ps))
	for i := range ps {
		out = append(out, prefixView(&ps[i]))
	}
	return out
}

func (h *HTTP) createNamespace(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string `json:"name"`
		Description string `json:"description"`
		Location    string `json:"location"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
		http.Error(w, "invalid body (need {name})", http.StatusBadRequest)
		return
	}
	ns, err := h.repo.CreateNamespace(in.Name, in.Description, in.Location)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ns)
}

func (h *HTTP) listNamespaces(w http.ResponseWriter, _ *http.Request) {
	nss, err := h.repo.ListNamespaces()
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, nss)
}

func (h *HTTP) namespaceIPs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid namespace id", http.StatusBadRequest)
		return
	}
	ips, err := h.repo.NamespaceIPAddresses(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ipViews(ips))
}

func (h *HTTP) createPrefix(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Prefix      string `json:"prefix"`
		NamespaceID uint   `json:"namespace_id"`
		Type        string `json:"type"`
		Status      string `json:"status"`
		Role        string `json:"role"`
		Tenant      string `json:"tenant"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Prefix == "" {
		http.Error(w, "invalid body (need {prefix})", http.StatusBadRequest)
		return
	}
	p, err := h.repo.CreatePrefix(PrefixInput{
		CIDR:        in.Prefix,
		NamespaceID: in.NamespaceID,
		Type:        in.Type,
		Status:      in.Status,
		Role:        in.Role,
		Tenant:      in.Tenant,
		Description: in.Description,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, prefixView(p))
}

func (h *HTTP) listPrefixes(w http.ResponseWriter, r *http.Request) {
	var nsID uint
	if s := r.URL.Query().Get("namespace"); s != "" {
		u, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			http.Error(w, "invalid namespace query param", http.StatusBadRequest)
			return
		}
		nsID = uint(u)
	}
	ps, err := h.repo.ListPrefixes(nsID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefixViews(ps))
}

func (h *HTTP) getPrefix(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid prefix id", http.StatusBadRequest)
		return
	}
	p, err := h.repo.GetPrefix(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefixView(p))
}

func (h *HTTP) updatePrefix(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid prefix id", http.StatusBadRequest)
		return
	}
	var in struct {
		Prefix      *string `json:"prefix"`
		NamespaceID *uint   `json:"namespace_id"`
		Type        *string `json:"type"`
		Status      *string `json:"status"`
		Role        *string `json:"role"`
		Tenant      *string `json:"tenant"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	p, err := h.repo.UpdatePrefix(id, PrefixUpdate{
		CIDR:        in.Prefix,
		NamespaceID: in.NamespaceID,
		Type:        in.Type,
		Status:      in.Status,
		Role:        in.Role,
		Tenant:      in.Tenant,
		Description: in.Description,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefixView(p))
}

func (h *HTTP) deletePrefix(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid prefix id", http.StatusBadRequest)
		return
	}
	if err := h.repo.DeletePrefix(id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *HTTP) availablePrefixes(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid prefix id", http.StatusBadRequest)
		return
	}
	free, err := h.repo.AvailablePrefixes(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]string, 0, len(free))
	for _, p := range free {
		out = append(out, p.String())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTP) availableIPs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid prefix id", http.StatusBadRequest)
		return
	}
	limit := 0
	if s := r.URL.Query().Get("limit"); s != "" {
		if v, err := strconv.Atoi(s); err == nil {
			limit = v
		}
	}
	free, err := h.repo.AvailableIPs(id, limit)
	if err != nil {
		writeErr(w, err)
		return
	}
	out := make([]string, 0, len(free))
	for _, a := range free {
		out = append(out, a.String())
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *HTTP) utilization(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid prefix id", http.StatusBadRequest)
		return
	}
	u, err := h.repo.Utilization(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"numerator":   u.Numerator.String(),
		"denominator": u.Denominator.String(),
		"percent":     u.Percent(),
	})
}

func (h *HTTP) ancestors(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid prefix id", http.StatusBadRequest)
		return
	}
	p, err := h.repo.GetPrefix(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	ps, err := h.repo.Ancestors(p)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefixViews(ps))
}

func (h *HTTP) descendants(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid prefix id", http.StatusBadRequest)
		return
	}
	p, err := h.repo.GetPrefix(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	ps, err := h.repo.Descendants(p)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, prefixViews(ps))
}
