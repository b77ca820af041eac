package health

import (
	"net/http"

	"github.com/danielgtaylor/huma/v2"
)

// reachabilityOp вызывается монитором сети клиента без токена
func (h *Handler) reachabilityOp() huma.Operation {
	return huma.Operation{
		OperationID: "sync-reachability",
		Method:      http.MethodGet,
		Path:        "/api/v1/health",
		Summary:     "Доступность сервера синхронизации",
		Description: "Легкий запрос, которым клиент подтверждает связь перед проходом синхронизации. " +
			"Возвращает тип хранилища; 503, если база данных недоступна.",
		Tags:        []string{"sync"},
		Middlewares: h.middleware,
	}
}
