package http

import (
	"net/http"
	"strconv"
	"strings"

	"exam-prep-service/internal/app"
	"exam-prep-service/internal/domain"
)

// API serves the REST surface: authentication, catalog reads, results and admin writes.
type API struct {
	catalog  *app.Catalog
	attempts *app.AttemptService
	auth     app.IdentityProvider
}

func NewAPI(catalog *app.Catalog, attempts *app.AttemptService, auth app.IdentityProvider) *API {
	return &API{catalog: catalog, attempts: attempts, auth: auth}
}

// Register mounts the routes on mux.
func (a *API) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/auth/signup", a.signUp)
	mux.HandleFunc("POST /api/auth/signin", a.signIn)
	mux.HandleFunc("POST /api/auth/signout", a.signOut)
	mux.HandleFunc("POST /api/auth/forgot", a.forgotPassword)
	mux.HandleFunc("POST /api/auth/reset", a.resetPassword)
	mux.HandleFunc("GET /api/auth/session", requireSession(a.auth, a.session))

	mux.HandleFunc("GET /api/leaderboard", a.leaderboard)
	mux.HandleFunc("GET /api/leaderboard/{userID}", a.userRank)
	mux.HandleFunc("GET /api/questions", a.questions)
	mux.HandleFunc("GET /api/mock-tests", a.mockTests)
	mux.HandleFunc("GET /api/mock-tests/{id}", a.mockTest)
	mux.HandleFunc("GET /api/results", requireSession(a.auth, a.results))
	mux.HandleFunc("GET /api/results/{testID}", requireSession(a.auth, a.result))

	admin := func(h http.HandlerFunc) http.HandlerFunc {
		return requirePermission(a.auth, domain.PermManageContent, h)
	}
	mux.HandleFunc("GET /api/admin/users", admin(a.users))
	mux.HandleFunc("POST /api/admin/questions", admin(a.createQuestion))
	mux.HandleFunc("POST /api/admin/questions/bulk", admin(a.bulkUpload))
	mux.HandleFunc("PATCH /api/admin/questions/{id}", admin(a.updateQuestion))
	mux.HandleFunc("DELETE /api/admin/questions/{id}", admin(a.deleteQuestion))
	mux.HandleFunc("GET /api/admin/mock-tests", admin(a.allMockTests))
	mux.HandleFunc("POST /api/admin/mock-tests", admin(a.createMockTest))
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Name     string `json:"name,omitempty"`
}

func (a *API) signUp(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	s, err := a.auth.SignUp(r.Context(), body.Email, body.Password, body.Name)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, s)
}

func (a *API) signIn(w http.ResponseWriter, r *http.Request) {
	var body credentials
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	s, err := a.auth.SignIn(r.Context(), body.Email, body.Password)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (a *API) signOut(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, domain.ErrUnauthorized)
		return
	}
	if err := a.auth.SignOut(r.Context(), token); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) forgotPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Email string `json:"email"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	token, err := a.auth.RequestPasswordReset(r.Context(), body.Email)
	if err != nil {
		writeError(w, err)
		return
	}
	// No mail delivery: the token is handed back to the caller.
	writeJSON(w, http.StatusAccepted, map[string]string{"resetToken": token})
}

func (a *API) resetPassword(w http.ResponseWriter, r *http.Request) {
	var body struct {
		Token    string `json:"token"`
		Password string `json:"password"`
	}
	if err := decodeJSON(r, &body); err != nil {
		writeError(w, err)
		return
	}
	if err := a.auth.ResetPassword(r.Context(), body.Token, body.Password); err != nil {
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) session(w http.ResponseWriter, r *http.Request) {
	s, _ := sessionFrom(r.Context())
	writeJSON(w, http.StatusOK, s)
}

func (a *API) leaderboard(w http.ResponseWriter, r *http.Request) {
	period := domain.Period(r.URL.Query().Get("period"))
	if period == "" {
		period = domain.PeriodAllTime
	}
	writeJSON(w, http.StatusOK, a.catalog.FetchLeaderboard(r.Context(), period))
}

func (a *API) userRank(w http.ResponseWriter, r *http.Request) {
	row := a.catalog.FetchUserRank(r.Context(), r.PathValue("userID"))
	if row == nil {
		writeError(w, domain.ErrUserNotFound)
		return
	}
	writeJSON(w, http.StatusOK, row)
}

func (a *API) questions(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := domain.QuestionFilter{
		SourceType: domain.SourceType(q.Get("sourceType")),
		Subject:    q.Get("subject"),
	}
	filter.Page, _ = strconv.Atoi(q.Get("page"))
	filter.Limit, _ = strconv.Atoi(q.Get("limit"))
	writeJSON(w, http.StatusOK, a.catalog.FetchQuestions(r.Context(), filter))
}

func (a *API) mockTests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.catalog.FetchMockTests(r.Context(), true))
}

func (a *API) allMockTests(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.catalog.FetchMockTests(r.Context(), false))
}

func (a *API) mockTest(w http.ResponseWriter, r *http.Request) {
	t, ok := a.catalog.FetchMockTest(r.Context(), r.PathValue("id"))
	if !ok {
		writeError(w, domain.ErrTestNotFound)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (a *API) results(w http.ResponseWriter, r *http.Request) {
	s, _ := sessionFrom(r.Context())
	results, err := a.attempts.Results(r.Context(), s.UserID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (a *API) result(w http.ResponseWriter, r *http.Request) {
	s, _ := sessionFrom(r.Context())
	res, err := a.attempts.Result(r.Context(), s.UserID, r.PathValue("testID"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

func (a *API) users(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, a.catalog.FetchAllUsers(r.Context()))
}

func (a *API) createQuestion(w http.ResponseWriter, r *http.Request) {
	s, _ := sessionFrom(r.Context())
	var q domain.Question
	if err := decodeJSON(r, &q); err != nil {
		writeError(w, err)
		return
	}
	q.CreatedBy = s.UserID
	q.CorrectOption = strings.ToUpper(strings.TrimSpace(q.CorrectOption))
	if q.Marks == 0 {
		q.Marks = 1
	}
	if err := domain.ValidateQuestion(q); err != nil {
		writeError(w, err)
		return
	}
	id := a.catalog.CreateQuestion(r.Context(), q)
	if id == "" {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "question not created"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}

func (a *API) bulkUpload(w http.ResponseWriter, r *http.Request) {
	s, _ := sessionFrom(r.Context())
	source := domain.SourceType(r.URL.Query().Get("source"))
	if !source.Valid() {
		writeError(w, &domain.ValidationError{Fields: map[string]string{"source": "must be mock_test, pyq or book"}})
		return
	}
	rows, err := app.ParseQuestionsCSV(r.Body)
	if err != nil {
		writeError(w, &domain.ValidationError{Fields: map[string]string{"file": err.Error()}})
		return
	}
	res := a.catalog.UploadBulkQuestions(r.Context(), rows, source, s.UserID)
	writeJSON(w, http.StatusOK, res)
}

func (a *API) updateQuestion(w http.ResponseWriter, r *http.Request) {
	var update domain.QuestionUpdate
	if err := decodeJSON(r, &update); err != nil {
		writeError(w, err)
		return
	}
	current, ok := a.catalog.FetchQuestion(r.Context(), r.PathValue("id"))
	if !ok {
		writeError(w, domain.ErrQuestionNotFound)
		return
	}
	update.Apply(&current)
	if err := domain.ValidateQuestion(current); err != nil {
		writeError(w, err)
		return
	}
	if !a.catalog.UpdateQuestion(r.Context(), current.ID, update) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "question not updated"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) deleteQuestion(w http.ResponseWriter, r *http.Request) {
	if _, ok := a.catalog.FetchQuestion(r.Context(), r.PathValue("id")); !ok {
		writeError(w, domain.ErrQuestionNotFound)
		return
	}
	if !a.catalog.DeleteQuestion(r.Context(), r.PathValue("id")) {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "question not deleted"})
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) createMockTest(w http.ResponseWriter, r *http.Request) {
	s, _ := sessionFrom(r.Context())
	var t domain.MockTest
	if err := decodeJSON(r, &t); err != nil {
		writeError(w, err)
		return
	}
	t.CreatedBy = s.UserID
	if err := domain.ValidateMockTest(t); err != nil {
		writeError(w, err)
		return
	}
	id := a.catalog.CreateMockTest(r.Context(), t)
	if id == "" {
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: "mock test not created"})
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"id": id})
}
