package unidos

import (
	"go/types"
	"net/http"
	"sync"

	"github.com/nasa-jpl/unidos/generichttp"
	"github.com/nasa-jpl/unidos/server"
)

// Identity is the answer to the identification handshake
type Identity struct {
	Family  string `json:"family"`
	Version string `json:"version"`
	Serial  string `json:"serial"`
}

// HTTPWrapper provides HTTP bindings on top of an Electrometer.
//
// The electrometer has a single cursor, so Serialize must wrap every route;
// two requests walking the menu at once would end up in the wrong fields.
type HTTPWrapper struct {
	*Electrometer

	mu sync.Mutex

	// RouteTable maps method-paths to http handlers
	RouteTable generichttp.RouteTable
}

// NewHTTPWrapper returns a new HTTP wrapper with the route table pre-configured
func NewHTTPWrapper(e *Electrometer) *HTTPWrapper {
	h := &HTTPWrapper{Electrometer: e}
	h.RouteTable = generichttp.RouteTable{
		generichttp.MethodPath{Method: http.MethodGet, Path: "/identity"}:          h.identity,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/flags"}:             h.flags,
		generichttp.MethodPath{Method: http.MethodGet, Path: "/position"}:          generichttp.GetString(h.position),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/status"}:            generichttp.GetString(h.status),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/range"}:             h.rangeInfo,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/range"}:            generichttp.SetString(e.SetRange),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/voltage"}:           generichttp.GetInt(func() (int, error) { return e.Voltage(true) }),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/voltage"}:          generichttp.SetInt(e.SetVoltage),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/integration-time"}:  generichttp.GetInt(func() (int, error) { return e.IntegrationTime(true) }),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/integration-time"}: generichttp.SetInt(e.SetIntegrationTime),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/unit"}:              generichttp.GetString(e.Unit),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/corrections"}:       generichttp.GetString(e.Corrections),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/reading"}:           h.reading,
		generichttp.MethodPath{Method: http.MethodPost, Path: "/integrate"}:        generichttp.GetFloat(e.Integrate),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/null"}:             generichttp.Do(e.Null),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/setup"}:            generichttp.Do(e.GoToSetup),
		generichttp.MethodPath{Method: http.MethodPost, Path: "/electrical-units"}: generichttp.Do(e.SetElectricalUnits),
		generichttp.MethodPath{Method: http.MethodGet, Path: "/warnings"}:          h.getWarnings,
		generichttp.MethodPath{Method: http.MethodDelete, Path: "/warnings"}:       h.deleteWarnings,
	}
	return h
}

// RT satisfies generichttp.HTTPer
func (h *HTTPWrapper) RT() generichttp.RouteTable {
	return h.RouteTable
}

// Serialize is a middleware that lets one request at a time through
func (h *HTTPWrapper) Serialize(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		h.mu.Lock()
		defer h.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (h *HTTPWrapper) identity(w http.ResponseWriter, r *http.Request) {
	server.EncodeAndRespond(w, Identity{
		Family:  h.Firmware().Family,
		Version: h.Version(),
		Serial:  h.SerialNumber()})
}

func (h *HTTPWrapper) flags(w http.ResponseWriter, r *http.Request) {
	f, err := h.Flags()
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	hp := server.HumanPayload{T: types.String, String: f.String()}
	hp.EncodeAndRespond(w, r)
}

func (h *HTTPWrapper) position() (string, error) {
	p, err := h.Position()
	return string(p), err
}

func (h *HTTPWrapper) status() (string, error) {
	s, err := h.Status()
	return s.String(), err
}

func (h *HTTPWrapper) rangeInfo(w http.ResponseWriter, r *http.Request) {
	ri, err := h.Range()
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	server.EncodeAndRespond(w, ri)
}

func (h *HTTPWrapper) reading(w http.ResponseWriter, r *http.Request) {
	rd, err := h.Reading()
	if err != nil {
		generichttp.Error(w, err)
		return
	}
	server.EncodeAndRespond(w, rd)
}

func (h *HTTPWrapper) getWarnings(w http.ResponseWriter, r *http.Request) {
	errs := h.Warnings()
	msgs := make([]string, len(errs))
	for i, err := range errs {
		msgs[i] = err.Error()
	}
	server.EncodeAndRespond(w, msgs)
}

func (h *HTTPWrapper) deleteWarnings(w http.ResponseWriter, r *http.Request) {
	h.ClearWarnings()
	w.WriteHeader(http.StatusOK)
}
