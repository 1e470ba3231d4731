package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/teamloop/teamloop/chat"
)

func (a *API) createChat(w http.ResponseWriter, r *http.Request) {
	var input chat.CreateChatInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, err)
		return
	}
	created, err := a.chats.CreateChat(r.Context(), requestUser(r).Id, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (a *API) listChats(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)
	chats, err := a.chats.GetChats(r.Context(), requestUser(r).Id, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chats)
}

func (a *API) listMessages(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)
	messages, err := a.chats.GetMessages(r.Context(), mux.Vars(r)["chatId"], requestUser(r).Id, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, messages)
}

func (a *API) sendMessage(w http.ResponseWriter, r *http.Request) {
	var input chat.SendMessageInput
	if err := decodeBody(r, &input); err != nil {
		writeError(w, err)
		return
	}
	input.ChatId = mux.Vars(r)["chatId"]
	message, err := a.chats.SendMessage(r.Context(), requestUser(r).Id, input)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, message)
}

func (a *API) updateMessage(w http.ResponseWriter, r *http.Request) {
	var input struct {
		Content string `json:"content"`
	}
	if err := decodeBody(r, &input); err != nil {
		writeError(w, err)
		return
	}
	message, err := a.chats.UpdateMessage(r.Context(), mux.Vars(r)["messageId"], requestUser(r).Id, input.Content)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, message)
}

func (a *API) deleteMessage(w http.ResponseWriter, r *http.Request) {
	if err := a.chats.DeleteMessage(r.Context(), mux.Vars(r)["messageId"], requestUser(r).Id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"deleted": true})
}

func (a *API) markChatRead(w http.ResponseWriter, r *http.Request) {
	marked, err := a.chats.MarkChatRead(r.Context(), mux.Vars(r)["chatId"], requestUser(r).Id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int{"marked": marked})
}

func (a *API) unreadCount(w http.ResponseWriter, r *http.Request) {
	count, err := a.chats.UnreadCount(r.Context(), requestUser(r).Id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]int64{"unreadCount": count})
}

func (a *API) listNotifications(w http.ResponseWriter, r *http.Request) {
	page, limit := pagination(r)
	notifications, err := a.chats.Notifications(r.Context(), requestUser(r).Id, page, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, notifications)
}

func (a *API) markNotificationRead(w http.ResponseWriter, r *http.Request) {
	if err := a.chats.MarkNotificationRead(r.Context(), mux.Vars(r)["notificationId"], requestUser(r).Id); err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"read": true})
}
