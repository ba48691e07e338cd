package handler

import (
	"net/http"

	"github.com/hitoshi/templeman/internal/guard"
	"github.com/hitoshi/templeman/internal/middleware"
	"github.com/hitoshi/templeman/internal/model"
)

type homeBody struct {
	View       string         `json:"view"`
	User       model.Identity `json:"user"`
	HasProfile bool           `json:"hasProfile"`
}

type profileBody struct {
	View    string         `json:"view"`
	User    model.Identity `json:"user"`
	Profile *model.Profile `json:"profile"`
}

type statusBody struct {
	View         string               `json:"view"`
	Applications []*model.Application `json:"applications"`
}

// Home はホーム画面を返す。
// GET /home（ガード: OptionalProfile）
func Home(w http.ResponseWriter, r *http.Request) {
	view := mustView(r)
	middleware.WriteJSON(w, homeBody{
		View:       "home",
		User:       view.Identity,
		HasProfile: view.Profile != nil,
	})
}

// Profile はプロフィール画面を返す。未作成の場合はprofileがnullになる。
// GET /profile（ガード: OptionalProfile）
func Profile(w http.ResponseWriter, r *http.Request) {
	view := mustView(r)
	middleware.WriteJSON(w, profileBody{
		View:    "profile",
		User:    view.Identity,
		Profile: view.Profile,
	})
}

// Status は申込状況画面を返す。申込は作成日時の新しい順。
// GET /status（ガード: Applications）
func Status(w http.ResponseWriter, r *http.Request) {
	view := mustView(r)
	apps := view.Applications
	if apps == nil {
		apps = []*model.Application{}
	}
	middleware.WriteJSON(w, statusBody{View: "status", Applications: apps})
}

// mustView はガードが設定したViewを返す。ガードを通さずに登録された場合はpanicする。
func mustView(r *http.Request) *guard.View {
	view, ok := guard.FromContext(r.Context())
	if !ok {
		panic("handler: view requires guard middleware")
	}
	return view
}
