package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/teamloop/teamloop/codesession"
	"github.com/teamloop/teamloop/errs"
)

func (a *API) createSession(w http.ResponseWriter, r *http.Request) {
	var input codesession.CreateSessionInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, err)
		return
	}
	session, err := a.sessions.Create(r.Context(), requestUser(r).Id, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

func (a *API) getSession(w http.ResponseWriter, r *http.Request) {
	session, err := a.sessions.Get(r.Context(), mux.Vars(r)["sessionId"], requestUser(r).Id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) listSessions(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)
	sessions, err := a.sessions.ListForUser(r.Context(), requestUser(r).Id, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *API) listPublicSessions(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)
	sessions, err := a.sessions.ListPublic(r.Context(), page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sessions)
}

func (a *API) joinSession(w http.ResponseWriter, r *http.Request) {
	sessionId := mux.Vars(r)["sessionId"]
	if err := a.sessions.Join(r.Context(), sessionId, requestUser(r).Id); err != nil {
		writeError(w, err)
		return
	}
	session, err := a.sessions.Get(r.Context(), sessionId, requestUser(r).Id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) leaveSession(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Leave(r.Context(), mux.Vars(r)["sessionId"], requestUser(r).Id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"left": true})
}

func (a *API) endSession(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.End(r.Context(), mux.Vars(r)["sessionId"], requestUser(r).Id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"ended": true})
}

func (a *API) deleteSession(w http.ResponseWriter, r *http.Request) {
	if err := a.sessions.Delete(r.Context(), mux.Vars(r)["sessionId"], requestUser(r).Id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (a *API) generateInviteCode(w http.ResponseWriter, r *http.Request) {
	code, err := a.sessions.GenerateInviteCode(r.Context(), mux.Vars(r)["sessionId"], requestUser(r).Id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"inviteCode": code})
}

func (a *API) joinByInviteCode(w http.ResponseWriter, r *http.Request) {
	session, err := a.sessions.JoinByInviteCode(r.Context(), mux.Vars(r)["code"], requestUser(r).Id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (a *API) inviteUser(w http.ResponseWriter, r *http.Request) {
	var input struct {
		UserId string `json:"userId"`
	}
	if err := decodeBody(r, &input); err != nil {
		writeError(w, err)
		return
	}
	if input.UserId == "" {
		writeError(w, errs.Validation("userId is required"))
		return
	}
	if err := a.sessions.InviteUser(r.Context(), mux.Vars(r)["sessionId"], requestUser(r).Id, input.UserId); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"invited": true})
}

func (a *API) sessionStats(w http.ResponseWriter, r *http.Request) {
	stats, err := a.sessions.Stats(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}
