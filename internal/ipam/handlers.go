package ipam

import (
	"encoding/json"
	"net/http"
	"strconv"

	"nsot/internal/models"

	"github.com/gorilla/mux"
)

// AddressHTTP — ручки для одиночных адресов и VRF-привязок.
type AddressHTTP struct{ repo *Repo }

func NewAddressHTTP(r *Repo) *AddressHTTP { return &AddressHTTP{repo: r} }

func (h *AddressHTTP) RegisterRoutes(r *mux.Router) {
	api := r.PathPrefix("/api/v1/ipam").Subrouter()

	api.HandleFunc("/ip-addresses", h.createIP).Methods(http.MethodPost)
	api.HandleFunc("/ip-addresses/{id}", h.getIP).Methods(http.MethodGet)
	api.HandleFunc("/ip-addresses/{id}", h.updateIP).Methods(http.MethodPut)
	api.HandleFunc("/ip-addresses/{id}", h.deleteIP).Methods(http.MethodDelete)

	api.HandleFunc("/vrfs", h.createVRF).Methods(http.MethodPost)
	api.HandleFunc("/prefixes/{id}/vrfs", h.prefixVRFs).Methods(http.MethodGet)
	api.HandleFunc("/prefixes/{id}/vrfs", h.assignVRF).Methods(http.MethodPost)
	api.HandleFunc("/prefixes/{id}/vrfs/{vrf}", h.unassignVRF).Methods(http.MethodDelete)
}

type ipOut struct {
	ID          uint   `json:"id"`
	UUID        string `json:"uuid"`
	Address     string `json:"address"`
	Host        string `json:"host"`
	MaskLength  int    `json:"mask_length"`
	IPVersion   int    `json:"ip_version"`
	ParentID    *uint  `json:"parent_id"`
	NATInsideID *uint  `json:"nat_inside_id,omitempty"`
	Status      string `json:"status,omitempty"`
	Role        string `json:"role,omitempty"`
	Tenant      string `json:"tenant,omitempty"`
	DNSName     string `json:"dns_name,omitempty"`
	Description string `json:"description,omitempty"`
}

func ipView(ip *models.IPAddress) ipOut {
	return ipOut{
		ID:          ip.ID,
		UUID:        ip.UUID,
		Address:     AddressString(ip),
		Host:        HostString(ip),
		MaskLength:  ip.MaskLength,
		IPVersion:   ip.IPVersion,
		ParentID:    ip.ParentID,
		NATInsideID: ip.NATInsideID,
		Status:      ip.Status,
		Role:        ip.Role,
		Tenant:      ip.Tenant,
		DNSName:     ip.DNSName,
		Description: ip.Description,
	}
}

func ipViews(ips []models.IPAddress) []ipOut {
	out := make([]ipOut, 0, len(ips))
	for i := range ips {
		out = append(out, ipView(&ips[i]))
	}
	return out
}

func (h *AddressHTTP) createIP(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Address     string `json:"address"`
		NamespaceID uint   `json:"namespace_id"`
		ParentID    *uint  `json:"parent_id"`
		NATInsideID *uint  `json:"nat_inside_id"`
		Status      string `json:"status"`
		Role        string `json:"role"`
		Tenant      string `json:"tenant"`
		DNSName     string `json:"dns_name"`
		Description string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Address == "" {
		http.Error(w, "invalid body (need {address})", http.StatusBadRequest)
		return
	}
	ip, err := h.repo.CreateIPAddress(IPAddressInput{
		Address:     in.Address,
		NamespaceID: in.NamespaceID,
		ParentID:    in.ParentID,
		NATInsideID: in.NATInsideID,
		Status:      in.Status,
		Role:        in.Role,
		Tenant:      in.Tenant,
		DNSName:     in.DNSName,
		Description: in.Description,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, ipView(ip))
}

func (h *AddressHTTP) getIP(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid ip id", http.StatusBadRequest)
		return
	}
	ip, err := h.repo.GetIPAddress(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ipView(ip))
}

func (h *AddressHTTP) updateIP(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid ip id", http.StatusBadRequest)
		return
	}
	var in struct {
		Address     *string `json:"address"`
		ParentID    *uint   `json:"parent_id"`
		NATInsideID *uint   `json:"nat_inside_id"`
		Status      *string `json:"status"`
		Role        *string `json:"role"`
		Tenant      *string `json:"tenant"`
		DNSName     *string `json:"dns_name"`
		Description *string `json:"description"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		http.Error(w, "invalid body", http.StatusBadRequest)
		return
	}
	ip, err := h.repo.UpdateIPAddress(id, IPAddressUpdate{
		Address:     in.Address,
		ParentID:    in.ParentID,
		NATInsideID: in.NATInsideID,
		Status:      in.Status,
		Role:        in.Role,
		Tenant:      in.Tenant,
		DNSName:     in.DNSName,
		Description: in.Description,
	})
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ipView(ip))
}

func (h *AddressHTTP) deleteIP(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid ip id", http.StatusBadRequest)
		return
	}
	if err := h.repo.DeleteIPAddress(id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AddressHTTP) createVRF(w http.ResponseWriter, r *http.Request) {
	var in struct {
		Name        string `json:"name"`
		RD          string `json:"rd"`
		NamespaceID uint   `json:"namespace_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.Name == "" {
		http.Error(w, "invalid body (need {name})", http.StatusBadRequest)
		return
	}
	v, err := h.repo.CreateVRF(in.Name, in.RD, in.NamespaceID)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, v)
}

func (h *AddressHTTP) prefixVRFs(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid prefix id", http.StatusBadRequest)
		return
	}
	vs, err := h.repo.PrefixVRFs(id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusOK, vs)
}

func (h *AddressHTTP) assignVRF(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid prefix id", http.StatusBadRequest)
		return
	}
	var in struct {
		VRFID uint `json:"vrf_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil || in.VRFID == 0 {
		http.Error(w, "invalid body (need {vrf_id})", http.StatusBadRequest)
		return
	}
	a, err := h.repo.AssignVRF(in.VRFID, id)
	if err != nil {
		writeErr(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, a)
}

func (h *AddressHTTP) unassignVRF(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(r)
	if !ok {
		http.Error(w, "invalid prefix id", http.StatusBadRequest)
		return
	}
	vrfU, err := strconv.ParseUint(mux.Vars(r)["vrf"], 10, 64)
	if err != nil || vrfU == 0 {
		http.Error(w, "invalid vrf id", http.StatusBadRequest)
		return
	}
	if err := h.repo.UnassignVRF(uint(vrfU), id); err != nil {
		writeErr(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}
