package httpapi

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/and161185/studydesk/internal/convert"
	"github.com/and161185/studydesk/internal/errs"
	"github.com/and161185/studydesk/internal/model"
	"github.com/gofrs/uuid/v5"
)

// --- auth ---

type registerRequest struct {
	Username    string `json:"username"`
	DisplayName string `json:"displayName"`
	Password    string `json:"password"`
}

func (s *Server) register(w http.ResponseWriter, r *http.Request) {
	var in registerRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	id, err := s.Auth.Register(r.Context(), in.Username, in.DisplayName, in.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"userId": id.String()})
}

type loginRequest struct {
	Username string `json:"username"`
	Password string `json:"password"`
}

type loginResponse struct {
	AccessToken string        `json:"accessToken"`
	ExpiresAt   time.Time     `json:"expiresAt"`
	User        *convert.User `json:"user"`
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var in loginRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	tok, u, err := s.Auth.Login(r.Context(), in.Username, in.Password, r.RemoteAddr)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, loginResponse{AccessToken: tok.AccessToken, ExpiresAt: tok.ExpiresAt.UTC(), User: convert.ToUser(&u)})
}

func (s *Server) me(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	u, err := s.Auth.Identity(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToUser(u))
}

func (s *Server) user(w http.ResponseWriter, r *http.Request) {
	id, err := convert.ParseID("userId", r.PathValue("userId"))
	if err != nil {
		writeError(w, err)
		return
	}
	u, err := s.Auth.Identity(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToUser(u))
}

func (s *Server) presence(w http.ResponseWriter, r *http.Request) {
	id, err := convert.ParseID("userId", r.PathValue("userId"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"userId": id, "online": s.Hub.Presence.Online(id)})
}

func (s *Server) activeCall(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	cs, ok := s.Hub.Calls.Active(uid)
	if !ok {
		writeError(w, fmt.Errorf("%w: no active call", errs.ErrNotFound))
		return
	}
	writeJSON(w, http.StatusOK, cs)
}

// --- direct chats ---

func (s *Server) listChats(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	chats, err := s.Chats.List(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToDirectChats(chats))
}

type openChatRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) openChat(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	var in openChatRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	peerID, err := convert.ParseID("userId", in.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	chat, created, err := s.Chats.Open(r.Context(), uid, peerID)
	if err != nil {
		writeError(w, err)
		return
	}
	if chat.Peer, err = s.Auth.Identity(r.Context(), peerID); err != nil {
		writeError(w, err)
		return
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	writeJSON(w, status, convert.ToDirectChat(chat))
}

func (s *Server) chatHistory(w http.ResponseWriter, r *http.Request) {
	s.history(w, r, model.RoomDirect, "chatId")
}

func (s *Server) postChatMessage(w http.ResponseWriter, r *http.Request) {
	s.postMessage(w, r, model.RoomDirect, "chatId")
}

func (s *Server) deleteChatMessage(w http.ResponseWriter, r *http.Request) {
	s.deleteMessage(w, r, model.RoomDirect)
}

// --- groups ---

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	groups, err := s.Groups.List(r.Context(), uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToGroups(groups))
}

type createGroupRequest struct {
	Name        string   `json:"name"`
	Description string   `json:"description"`
	MemberIDs   []string `json:"memberIds"`
}

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	var in createGroupRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	members := make([]uuid.UUID, 0, len(in.MemberIDs))
	for _, raw := range in.MemberIDs {
		id, err := convert.ParseID("memberIds", raw)
		if err != nil {
			writeError(w, err)
			return
		}
		members = append(members, id)
	}
	g, err := s.Groups.Create(r.Context(), uid, in.Name, in.Description, members)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.ToGroup(g))
}

func (s *Server) getGroup(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	gid, err := convert.ParseID("groupId", r.PathValue("groupId"))
	if err != nil {
		writeError(w, err)
		return
	}
	g, err := s.Groups.Get(r.Context(), uid, gid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToGroup(g))
}

func (s *Server) groupHistory(w http.ResponseWriter, r *http.Request) {
	s.history(w, r, model.RoomGroup, "groupId")
}

func (s *Server) postGroupMessage(w http.ResponseWriter, r *http.Request) {
	s.postMessage(w, r, model.RoomGroup, "groupId")
}

func (s *Server) deleteGroupMessage(w http.ResponseWriter, r *http.Request) {
	s.deleteMessage(w, r, model.RoomGroup)
}

type memberRequest struct {
	UserID string `json:"userId"`
}

func (s *Server) addMember(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	gid, err := convert.ParseID("groupId", r.PathValue("groupId"))
	if err != nil {
		writeError(w, err)
		return
	}
	var in memberRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	member, err := convert.ParseID("userId", in.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Groups.AddMember(r.Context(), uid, gid, member); err != nil {
		writeError(w, err)
		return
	}
	g, err := s.Groups.Get(r.Context(), uid, gid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.ToGroup(g))
}

// removeMember also drops the removed user's live subscription to the group.
func (s *Server) removeMember(w http.ResponseWriter, r *http.Request) {
	uid, _ := UserIDFromCtx(r.Context())
	gid, err := convert.ParseID("groupId", r.PathValue("groupId"))
	if err != nil {
		writeError(w, err)
		return
	}
	member, err := convert.ParseID("userId", r.PathValue("userId"))
	if err != nil {
		writeError(w, err)
		return
	}
	if err := s.Groups.RemoveMember(r.Context(), uid, gid, member); err != nil {
		writeError(w, err)
		return
	}
	s.Hub.Revoke(member, model.GroupRoom(gid))
	w.WriteHeader(http.StatusNoContent)
}

// --- messages, shared by both room kinds ---

func (s *Server) history(w http.ResponseWriter, r *http.Request, kind model.RoomKind, param string) {
	uid, _ := UserIDFromCtx(r.Context())
	roomID, err := convert.ParseID(param, r.PathValue(param))
	if err != nil {
		writeError(w, err)
		return
	}
	q, err := historyQuery(r)
	if err != nil {
		writeError(w, err)
		return
	}
	msgs, err := s.Messages.History(r.Context(), model.Room{Kind: kind, ID: roomID}, uid, q)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToMessages(msgs))
}

func historyQuery(r *http.Request) (model.HistoryQuery, error) {
	var q model.HistoryQuery
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			return q, fmt.Errorf("%w: invalid limit", errs.ErrValidation)
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("before"); v != "" {
		t, err := time.Parse(time.RFC3339Nano, v)
		if err != nil {
			return q, fmt.Errorf("%w: before must be RFC3339", errs.ErrValidation)
		}
		q.Before = &t
	}
	return q, nil
}

type postMessageRequest struct {
	Text     string `json:"text"`
	FileURL  string `json:"fileUrl"`
	FileName string `json:"fileName"`
	FileType string `json:"fileType"`
}

// postMessage goes through the relay so live subscribers see REST writes too.
func (s *Server) postMessage(w http.ResponseWriter, r *http.Request, kind model.RoomKind, param string) {
	uid, _ := UserIDFromCtx(r.Context())
	roomID, err := convert.ParseID(param, r.PathValue(param))
	if err != nil {
		writeError(w, err)
		return
	}
	var in postMessageRequest
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	nm := model.NewMessage{Room: model.Room{Kind: kind, ID: roomID}, SenderID: uid, Body: in.Text}
	if in.FileURL != "" {
		nm.Attachment = &model.Attachment{URL: in.FileURL, Name: in.FileName, Type: in.FileType}
	}
	m, err := s.Hub.Relay.Submit(r.Context(), nm)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, convert.ToMessage(m))
}

func (s *Server) deleteMessage(w http.ResponseWriter, r *http.Request, kind model.RoomKind) {
	uid, _ := UserIDFromCtx(r.Context())
	id, err := convert.ParseID("messageId", r.PathValue("messageId"))
	if err != nil {
		writeError(w, err)
		return
	}
	m, err := s.Hub.Relay.Delete(r.Context(), kind, id, uid)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, convert.ToMessageDeleted(m))
}
