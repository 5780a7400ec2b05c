package handlers

import (
	"github.com/jmoiron/sqlx"

	"secondhand/internal/repos"
	"secondhand/internal/services"
)

type Deps struct {
	AuthSvc *services.AuthService
	Coord   *services.Coordinator

	AuthHandler     *AuthHandler
	ProductHandler  *ProductHandler
	QueueHandler    *QueueHandler
	WantListHandler *WantListHandler
	AdminHandler    *AdminHandler
}

// NewDeps builds the repositories, the reservation coordinator and the
// handlers over db.
func NewDeps(db *sqlx.DB, cfg services.CoordinatorConfig, auth *services.AuthService) *Deps {
	prodRepo := repos.NewProductRepo(db)
	queueRepo := repos.NewQueueRepo(db)
	listRepo := repos.NewWantListRepo(db)
	salesRepo := repos.NewSalesRepo(db)

	queue := services.NewInterestQueue(prodRepo, queueRepo)
	lists := services.NewWantLists(listRepo, prodRepo, queue, services.NewSalesEmitter(salesRepo))
	coord := services.NewCoordinator(db, lists, cfg)

	return &Deps{
		AuthSvc:         auth,
		Coord:           coord,
		AuthHandler:     &AuthHandler{Auth: auth},
		ProductHandler:  &ProductHandler{Coord: coord},
		QueueHandler:    &QueueHandler{Coord: coord},
		WantListHandler: &WantListHandler{Coord: coord},
		AdminHandler:    &AdminHandler{Coord: coord, Sales: salesRepo},
	}
}
