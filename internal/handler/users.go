package handler

import (
	"net/http"

	"go.uber.org/zap"

	"github.com/mmeshcher/mealsub-system/internal/model"
	"github.com/mmeshcher/mealsub-system/internal/service"
)

type createUserRequest struct {
	Login        string     `json:"login"`
	Password     string     `json:"password"`
	Role         model.Role `json:"role"`
	RestaurantID int64      `json:"restaurantId"`
}

type createUserResponse struct {
	ID   int64  `json:"id"`
	Role string `json:"role"`
}

// CreateUser создаёт учётную запись с выбранной ролью. Маршрут доступен только администратору.
func (h *Handler) CreateUser(w http.ResponseWriter, r *http.Request) {
	user, ok := currentUser(w, r)
	if !ok {
		return
	}

	var req createUserRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	id, err := h.service.CreateUser(r.Context(), service.Actor{ID: user.ID, Role: user.Role}, service.NewUser{
		Login:        req.Login,
		Password:     req.Password,
		Role:         req.Role,
		RestaurantID: req.RestaurantID,
	})
	if err != nil {
		h.writeError(w, err, "create user error", zap.String("login", req.Login))
		return
	}

	writeJSON(w, http.StatusCreated, createUserResponse{ID: id, Role: string(req.Role)})
}
