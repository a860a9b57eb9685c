package enum

type OrderOrigin string

const (
	OrderOriginManual OrderOrigin = "manual"
	OrderOriginWeb    OrderOrigin = "web"
)
