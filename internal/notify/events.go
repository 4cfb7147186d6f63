package notify

// Event names pushed over live channels. Operator dashboards subscribe to all
// of them; participant and family channels only ever see the directed ones.
const (
	EventLocationUpdate       = "locationUpdate"
	EventStatusUpdate         = "statusUpdate"
	EventPanicAlert           = "panicAlert"
	EventAnomalyAlert         = "anomalyAlert"
	EventCancelPanicMode      = "cancelPanicMode"
	EventEmergencyDispatched  = "emergencyResponseDispatched"
	EventAdminDislocation     = "adminDislocationAlert"
	EventDislocationBroadcast = "dislocationAlert"
	EventGroupCheckPrompt     = "geoFenceAlert"

	EventFamilyAlertUpdate    = "familyAlertUpdate"
	EventFamilyAlertResolved  = "familyAlertResolved"
	EventFamilyLocationUpdate = "familyLocationUpdate"
	EventFamilyLocationInit   = "familyLocationInit"
)

// Envelope is the wire shape of every pushed event.
type Envelope struct {
	Event string      `json:"event"`
	Data  interface{} `json:"data"`
}
