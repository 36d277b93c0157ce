package handler

import (
	"log/slog"
	"net/http"

	"github.com/melotech/melotech/internal/apperror"
	"github.com/melotech/melotech/internal/auth"
	"github.com/melotech/melotech/internal/model"
	"github.com/melotech/melotech/internal/service"
)

// TableHandler serves the users and submissions tables under /rest/v1.
//
// Rows are selected with equality query parameters (?authid=, ?userid=, ?id=).
// Authorization is decided by SubmissionService, never by which filter the
// client happened to send.
type TableHandler struct {
	service *service.SubmissionService
	logger  *slog.Logger
}

func NewTableHandler(svc *service.SubmissionService, logger *slog.Logger) *TableHandler {
	return &TableHandler{service: svc, logger: logger}
}

func callerID(r *http.Request) string {
	id, _ := auth.IdentityIDFromContext(r.Context())
	return id
}

func submissionFilter(r *http.Request) model.SubmissionFilter {
	q := r.URL.Query()
	return model.SubmissionFilter{ID: q.Get("id"), UserID: q.Get("userid")}
}

// HandleListUsers returns the profile rows linked to an identity.
//
// HTTP: GET /rest/v1/users?authid={identityID}
func (h *TableHandler) HandleListUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.service.ListUsers(r.Context(), callerID(r), r.URL.Query().Get("authid"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, users)
}

// HandleUpdateUser edits the caller's profile. "admin" in the body is rejected
// as an unknown field.
//
// HTTP: PATCH /rest/v1/users?authid={identityID}
func (h *TableHandler) HandleUpdateUser(w http.ResponseWriter, r *http.Request) {
	var patch model.ProfilePatch
	if err := decodeJSON(w, r, &patch); err != nil {
		writeError(w, err)
		return
	}
	user, err := h.service.UpdateProfile(r.Context(), callerID(r), r.URL.Query().Get("authid"), patch)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, user)
}

// HandleListSubmissions returns the submissions matching the query filters.
//
// HTTP: GET /rest/v1/submissions?userid={userID}[&id={submissionID}]
func (h *TableHandler) HandleListSubmissions(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.ListSubmissions(r.Context(), callerID(r), submissionFilter(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// HandleListWithOwner is the admin read model.
//
// HTTP: GET /rest/v1/submissions_with_owner[?id={submissionID}]
func (h *TableHandler) HandleListWithOwner(w http.ResponseWriter, r *http.Request) {
	subs, err := h.service.ListSubmissionsWithOwner(r.Context(), callerID(r), submissionFilter(r))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, subs)
}

// HandleCreateSubmission inserts a pending submission owned by the caller.
//
// HTTP: POST /rest/v1/submissions
func (h *TableHandler) HandleCreateSubmission(w http.ResponseWriter, r *http.Request) {
	var in service.NewSubmission
	if err := decodeJSON(w, r, &in); err != nil {
		writeError(w, err)
		return
	}
	sub, err := h.service.CreateSubmission(r.Context(), callerID(r), in)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, sub)
}

// HandleUpdateSubmission has two shapes:
//
//	PATCH /rest/v1/submissions?id=X&userid=Y   owner edit of pre-review fields
//	PATCH /rest/v1/submissions?id=X            admin review (status, rating, feedback)
func (h *TableHandler) HandleUpdateSubmission(w http.ResponseWriter, r *http.Request) {
	filter := submissionFilter(r)
	if filter.ID == "" {
		writeError(w, apperror.ValidationFailed("id", "id filter is required"))
		return
	}

	var (
		sub *model.Submission
		err error
	)
	if filter.UserID != "" {
		var patch model.OwnerPatch
		if err := decodeJSON(w, r, &patch); err != nil {
			writeError(w, err)
			return
		}
		sub, err = h.service.UpdateOwned(r.Context(), callerID(r), filter.ID, filter.UserID, patch)
	} else {
		var patch model.ReviewPatch
		if err := decodeJSON(w, r, &patch); err != nil {
			writeError(w, err)
			return
		}
		sub, err = h.service.Review(r.Context(), callerID(r), filter.ID, patch)
	}
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, sub)
}
