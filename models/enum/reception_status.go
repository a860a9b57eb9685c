package enum

type ReceptionStatus string

const (
	ReceptionStatusReceived  ReceptionStatus = "Received"
	ReceptionStatusCancelled ReceptionStatus = "Cancelled"
)
