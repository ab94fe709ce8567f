// Package web exposes the JSON API consumed by the scheduler frontend.
package web

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/example/laundry-scheduler/internal/booking"
	"github.com/example/laundry-scheduler/internal/identity"
	"github.com/example/laundry-scheduler/internal/logger"
	"github.com/example/laundry-scheduler/internal/rooms"
)

type Server struct {
	Bookings *booking.Service
	Rooms    *rooms.Repo
	Local    *identity.LocalStore
	Sessions *Sessions

	log *logger.Logger
}

type ctxKey string

const identityKey ctxKey = "identity"

func identityFrom(ctx context.Context) (identity.Identity, bool) {
	id, ok := ctx.Value(identityKey).(identity.Identity)
	return id, ok
}

func (s *Server) Routes() http.Handler {
	if s.log == nil {
		s.log = logger.New("web")
	}
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok\n"))
	})

	mux.HandleFunc("POST /api/login", s.handleLogin)
	mux.HandleFunc("POST /api/logout", s.handleLogout)

	mux.Handle("POST /api/rooms", s.requireAuth(s.handleCreateRoom))
	mux.Handle("POST /api/rooms/join", s.requireAuth(s.handleJoinRoom))
	mux.Handle("GET /api/rooms", s.requireAuth(s.handleListRooms))
	mux.Handle("PUT /api/user/contact", s.requireAuth(s.handleSetContact))

	mux.Handle("GET /api/bookings/{roomID}", s.requireAuth(s.handleListBookings))
	mux.Handle("POST /api/bookings", s.requireAuth(s.handleCreateBooking))
	mux.Handle("DELETE /api/bookings/{id}", s.requireAuth(s.handleDeleteBooking))

	return s.logRequests(mux)
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.log.Debug("%s %s (%s)", r.Method, r.URL.Path, time.Since(start))
	})
}

// requireAuth resolves the caller's identity from a bearer token or, failing
// that, the session cookie. A valid bearer token refreshes the session so the
// frontend can drop the token on subsequent requests.
func (s *Server) requireAuth(next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if token, ok := bearerToken(r); ok {
			id, err := identity.FromBearer(token)
			if err != nil {
				s.writeError(w, http.StatusUnauthorized, "invalid token")
				return
			}
			if err := s.Sessions.Set(w, r, id); err != nil {
				s.log.Error("setting session: %v", err)
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
			return
		}
		if id, ok := s.Sessions.Get(r); ok {
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), identityKey, id)))
			return
		}
		s.writeError(w, http.StatusUnauthorized, "authentication required")
	})
}

func bearerToken(r *http.Request) (string, bool) {
	h := r.Header.Get("Authorization")
	if h == "" {
		return "", false
	}
	token, found := strings.CutPrefix(h, "Bearer ")
	if !found || token == "" {
		return "", false
	}
	return token, true
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	id, err := s.Local.Verify(r.Context(), req.Username, req.Password)
	if err != nil {
		if errors.Is(err, identity.ErrBadCredentials) {
			s.writeError(w, http.StatusUnauthorized, "invalid username or password")
			return
		}
		s.internalError(w, err)
		return
	}
	if err := s.Sessions.Set(w, r, id); err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{
		"userId":      id.UserID,
		"displayName": id.DisplayName,
	})
}

func (s *Server) handleLogout(w http.ResponseWriter, _ *http.Request) {
	s.Sessions.Clear(w)
	w.WriteHeader(http.StatusNoContent)
}

type roomJSON struct {
	ID                string       `json:"id"`
	Name              string       `json:"name"`
	Code              string       `json:"code"`
	CreatedBy         string       `json:"createdBy"`
	DefaultBlockSlots int          `json:"defaultBlockSlots"`
	Members           []memberJSON `json:"members,omitempty"`
}

type memberJSON struct {
	Identity       string `json:"identity"`
	DisplayName    string `json:"displayName"`
	ContactAddress string `json:"contactAddress,omitempty"`
}

func toRoomJSON(room rooms.Room, members []rooms.Member) roomJSON {
	out := roomJSON{
		ID:                room.ID,
		Name:              room.Name,
		Code:              room.Code,
		CreatedBy:         room.CreatedBy,
		DefaultBlockSlots: room.DefaultBlockSlots,
	}
	for _, m := range members {
		out.Members = append(out.Members, memberJSON{
			Identity:       m.Identity,
			DisplayName:    m.DisplayName,
			ContactAddress: m.ContactAddress,
		})
	}
	return out
}

func (s *Server) handleCreateRoom(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	var req struct {
		Name string `json:"name"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || strings.TrimSpace(req.Name) == "" {
		s.writeError(w, http.StatusBadRequest, "room name is required")
		return
	}
	room, err := s.Rooms.Create(r.Context(), strings.TrimSpace(req.Name), id.UserID, id.DisplayName)
	if err != nil {
		s.internalError(w, err)
		return
	}
	s.writeJSON(w, http.StatusCreated, toRoomJSON(room, nil))
}

func (s *Server) handleJoinRoom(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	var req struct {
		Code string `json:"code"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Code == "" {
		s.writeError(w, http.StatusBadRequest, "room code is required")
		return
	}
	room, err := s.Rooms.Join(r.Context(), strings.ToUpper(strings.TrimSpace(req.Code)), id.UserID, id.DisplayName)
	if err != nil {
		switch {
		case errors.Is(err, rooms.ErrNotFound):
			s.writeError(w, http.StatusNotFound, "no room with that code")
		case errors.Is(err, rooms.ErrAlreadyMember):
			s.writeError(w, http.StatusConflict, "already a member of this room")
		default:
			s.internalError(w, err)
		}
		return
	}
	s.writeJSON(w, http.StatusOK, toRoomJSON(room, nil))
}

func (s *Server) handleListRooms(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	list, err := s.Rooms.ListForUser(r.Context(), id.UserID)
	if err != nil {
		s.internalError(w, err)
		return
	}
	out := make([]roomJSON, 0, len(list))
	for _, room := range list {
		members, err := s.Rooms.Members(r.Context(), room.ID)
		if err != nil {
			s.internalError(w, err)
			return
		}
		out = append(out, toRoomJSON(room, members))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleSetContact(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	var req struct {
		ContactAddress string `json:"contactAddress"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.Rooms.SetContact(r.Context(), id.UserID, strings.TrimSpace(req.ContactAddress)); err != nil {
		s.internalError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type bookingJSON struct {
	ID              string `json:"id"`
	RoomID          string `json:"roomId"`
	UserID          string `json:"userId"`
	UserName        string `json:"userName"`
	MachineType     string `json:"machineType"`
	StartTime       int64  `json:"startTime"`
	EndTime         int64  `json:"endTime"`
	LinkedBookingID string `json:"linkedBookingId,omitempty"`
}

func toBookingJSON(b booking.Booking) bookingJSON {
	return bookingJSON{
		ID:              b.ID,
		RoomID:          b.RoomID,
		UserID:          b.OwnerIdentity,
		UserName:        b.OwnerName,
		MachineType:     string(b.Machine),
		StartTime:       b.StartTime.UnixMilli(),
		EndTime:         b.EndTime.UnixMilli(),
		LinkedBookingID: b.LinkedID,
	}
}

func (s *Server) handleListBookings(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	roomID := r.PathValue("roomID")

	list, err := s.Bookings.ListBookings(r.Context(), roomID, id.UserID)
	if err != nil {
		s.bookingError(w, err)
		return
	}
	out := make([]bookingJSON, 0, len(list))
	for _, b := range list {
		out = append(out, toBookingJSON(b))
	}
	s.writeJSON(w, http.StatusOK, out)
}

func (s *Server) handleCreateBooking(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())
	var req struct {
		RoomID      string `json:"roomId"`
		MachineType string `json:"machineType"`
		Slot        int    `json:"slot"`
		Day         int    `json:"day"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.RoomID == "" {
		s.writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	machine := booking.MachineType(req.MachineType)
	if !machine.Valid() {
		s.writeError(w, http.StatusBadRequest, "machineType must be washer or dryer")
		return
	}

	res, err := s.Bookings.Create(r.Context(), req.RoomID, id.UserID, id.DisplayName, machine, req.Slot, req.Day)
	if err != nil {
		s.bookingError(w, err)
		return
	}

	resp := struct {
		Outcome       string       `json:"outcome"`
		Booking       bookingJSON  `json:"booking"`
		LinkedBooking *bookingJSON `json:"linkedBooking,omitempty"`
		Warning       string       `json:"warning,omitempty"`
	}{
		Outcome: string(res.Outcome),
		Booking: toBookingJSON(res.Booking),
		Warning: res.Warning,
	}
	if res.Linked != nil {
		lb := toBookingJSON(*res.Linked)
		resp.LinkedBooking = &lb
	}
	s.writeJSON(w, http.StatusCreated, resp)
}

func (s *Server) handleDeleteBooking(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	res, err := s.Bookings.Delete(r.Context(), r.PathValue("id"), id.UserID)
	if err != nil {
		s.bookingError(w, err)
		return
	}
	removed := make([]string, 0, len(res.Removed))
	for _, b := range res.Removed {
		removed = append(removed, b.ID)
	}
	s.writeJSON(w, http.StatusOK, struct {
		Removed []string `json:"removed"`
		Warning string   `json:"warning,omitempty"`
	}{Removed: removed, Warning: res.Warning})
}

// bookingError maps booking domain errors onto HTTP status codes.
func (s *Server) bookingError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, booking.ErrSlotUnavailable),
		errors.Is(err, booking.ErrLinkedSlotUnavailable),
		errors.Is(err, booking.ErrConstraintViolation):
		s.writeError(w, http.StatusConflict, err.Error())
	case errors.Is(err, booking.ErrLinkedSlotInvalidHours):
		s.writeError(w, http.StatusBadRequest, err.Error())
	case errors.Is(err, booking.ErrUnauthorized):
		s.writeError(w, http.StatusForbidden, err.Error())
	case errors.Is(err, booking.ErrNotFound):
		s.writeError(w, http.StatusNotFound, err.Error())
	default:
		s.internalError(w, err)
	}
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.log.Error("encoding response: %v", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, msg string) {
	s.writeJSON(w, status, map[string]string{"error": msg})
}

func (s *Server) internalError(w http.ResponseWriter, err error) {
	s.log.Error("request failed: %v", err)
	s.writeError(w, http.StatusInternalServerError, "internal error")
}

// Start serves h until ctx is cancelled, then shuts down gracefully.
func Start(ctx context.Context, addr string, h http.Handler) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	fmt.Printf("listening on %s\n", addr)
	return srv.ListenAndServe()
}
