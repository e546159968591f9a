package web

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/hitoshi/todoman/internal/handler"
	"github.com/hitoshi/todoman/internal/middleware"
	"github.com/hitoshi/todoman/internal/model"
)

// todoHandler はREST APIと同じレスポンス形式でタスクを扱うginハンドラー。
type todoHandler struct {
	service handler.TodoServiceInterface
}

func newTodoHandler(service handler.TodoServiceInterface) *todoHandler {
	return &todoHandler{service: service}
}

// owner はGinRequireAuthが注入したユーザーIDを返す。
func owner(c *gin.Context) (model.OwnerID, bool) {
	userID, err := middleware.UserIDFromContext(c.Request.Context())
	if err != nil {
		middleware.WriteErrorResponse(c.Writer, http.StatusUnauthorized, model.NewUnauthorizedError())
		c.Abort()
		return "", false
	}
	return userID, true
}

func writeError(c *gin.Context, err error) {
	middleware.WriteServiceError(c.Writer, c.Request, err)
	c.Abort()
}

func (h *todoHandler) list(c *gin.Context) {
	userID, ok := owner(c)
	if !ok {
		return
	}
	todos, err := h.service.List(c.Request.Context(), userID)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.NewTodoListResponse(todos))
}

func (h *todoHandler) create(c *gin.Context) {
	userID, ok := owner(c)
	if !ok {
		return
	}
	var req handler.CreateTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, model.NewInvalidRequestError())
		return
	}
	todo, err := h.service.Create(c.Request.Context(), userID, req.Title, req.Completed)
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{"todo": handler.NewTodoResponse(todo)})
}

func (h *todoHandler) get(c *gin.Context) {
	userID, ok := owner(c)
	if !ok {
		return
	}
	todo, err := h.service.Get(c.Request.Context(), userID, c.Param("id"))
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"todo": handler.NewTodoResponse(todo)})
}

func (h *todoHandler) update(c *gin.Context) {
	userID, ok := owner(c)
	if !ok {
		return
	}
	var req handler.UpdateTodoRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		writeError(c, model.NewInvalidRequestError())
		return
	}
	todo, err := h.service.Update(c.Request.Context(), userID, c.Param("id"), req.Patch())
	if err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"todo": handler.NewTodoResponse(todo)})
}

func (h *todoHandler) delete(c *gin.Context) {
	userID, ok := owner(c)
	if !ok {
		return
	}
	if err := h.service.Delete(c.Request.Context(), userID, c.Param("id")); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, handler.DeletedResponse())
}
