package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/hitoshi/todoman/internal/model"
)

// TodoServiceInterface はタスクハンドラーが必要とするサービスインターフェース。
// 全ての操作は認証済みユーザーのOwnerIDでスコープされる。
type TodoServiceInterface interface {
	List(ctx context.Context, owner model.OwnerID) ([]*model.Todo, error)
	Create(ctx context.Context, owner model.OwnerID, title string, completed bool) (*model.Todo, error)
	Get(ctx context.Context, owner model.OwnerID, id string) (*model.Todo, error)
	Update(ctx context.Context, owner model.OwnerID, id string, patch model.TodoPatch) (*model.Todo, error)
	Delete(ctx context.Context, owner model.OwnerID, id string) error
}

// TodoHandler はタスク管理のHTTPハンドラー。
type TodoHandler struct {
	service TodoServiceInterface
}

// NewTodoHandler はTodoHandlerを生成する。
func NewTodoHandler(service TodoServiceInterface) *TodoHandler {
	return &TodoHandler{service: service}
}

// CreateTodoRequest はタスク作成リクエストのボディ。
type CreateTodoRequest struct {
	Title     string `json:"title"`
	Completed bool   `json:"completed"`
}

// UpdateTodoRequest はタスク更新リクエストのボディ。省略したフィールドは変更しない。
type UpdateTodoRequest struct {
	Title     *string `json:"title"`
	Completed *bool   `json:"completed"`
}

// Patch はリクエストを部分更新内容に変換する。
func (req UpdateTodoRequest) Patch() model.TodoPatch {
	return model.TodoPatch{Title: req.Title, Completed: req.Completed}
}

// List は認証ユーザーのタスク一覧を返す。
// GET /todos
func (h *TodoHandler) List(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUserID(w, r)
	if !ok {
		return
	}

	todos, err := h.service.List(r.Context(), owner)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, NewTodoListResponse(todos))
}

// Create はタスクを作成する。
// POST /todos
func (h *TodoHandler) Create(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req CreateTodoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	todo, err := h.service.Create(r.Context(), owner, req.Title, req.Completed)
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{"todo": NewTodoResponse(todo)})
}

// Get はタスクを1件返す。
// GET /todos/{id}
func (h *TodoHandler) Get(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUserID(w, r)
	if !ok {
		return
	}

	todo, err := h.service.Get(r.Context(), owner, chi.URLParam(r, "id"))
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"todo": NewTodoResponse(todo)})
}

// Update はタスクのタイトル・完了状態を部分更新する。
// PATCH /todos/{id}
func (h *TodoHandler) Update(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUserID(w, r)
	if !ok {
		return
	}

	var req UpdateTodoRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleServiceError(w, r, err)
		return
	}

	todo, err := h.service.Update(r.Context(), owner, chi.URLParam(r, "id"), req.Patch())
	if err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"todo": NewTodoResponse(todo)})
}

// Delete はタスクを削除する。
// DELETE /todos/{id}
func (h *TodoHandler) Delete(w http.ResponseWriter, r *http.Request) {
	owner, ok := requireUserID(w, r)
	if !ok {
		return
	}

	if err := h.service.Delete(r.Context(), owner, chi.URLParam(r, "id")); err != nil {
		handleServiceError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, DeletedResponse())
}

// DeletedResponse はタスク削除成功時のレスポンスボディ。
func DeletedResponse() map[string]string {
	return map[string]string{"message": "Todo deleted"}
}
