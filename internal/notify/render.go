package notify

import (
	"fmt"
	"html"
	"strconv"
	"strings"
	"time"

	"locbot/internal/events"
	"locbot/internal/featureflags"
	"locbot/internal/models"
	"locbot/internal/validation"
)

// Renderer builds the moderator-facing texts.
type Renderer struct {
	regions  *validation.Regions
	flags    *featureflags.Manager
	location *time.Location
}

// NewRenderer creates a renderer. A nil flags manager hides the optional buttons.
func NewRenderer(regions *validation.Regions, flags *featureflags.Manager) *Renderer {
	if regions == nil {
		regions = validation.DefaultRegions()
	}
	return &Renderer{regions: regions, flags: flags, location: time.UTC}
}

// Coordinates formats a point the way moderators paste it into map tools.
func Coordinates(lat, lon float64) string {
	return strconv.FormatFloat(lat, 'f', -1, 64) + ", " + strconv.FormatFloat(lon, 'f', -1, 64)
}

// MapURL links to the point on Google Maps.
func MapURL(lat, lon float64) string {
	return fmt.Sprintf("https://www.google.com/maps?q=%s,%s",
		strconv.FormatFloat(lat, 'f', -1, 64), strconv.FormatFloat(lon, 'f', -1, 64))
}

func (r *Renderer) country(code string) validation.Country {
	if c, ok := r.regions.Lookup(code); ok {
		return c
	}
	return validation.Country{Code: code, Name: code, Flag: "📍"}
}

// Request renders the new-request message with its action buttons.
func (r *Renderer) Request(req models.PendingRequest, chatID int64) OutgoingMessage {
	c := r.country(req.Country)

	var b strings.Builder
	fmt.Fprintf(&b, "%s <b>NUEVA SOLICITUD - %s</b>\n\n", c.Flag, html.EscapeString(strings.ToUpper(c.Name)))
	fmt.Fprintf(&b, "📍 <b>Lugar:</b> %s\n", html.EscapeString(req.Name))
	fmt.Fprintf(&b, "🏙️ <b>%s:</b> %s\n", html.EscapeString(c.Label("municipio")), html.EscapeString(req.Municipio))
	fmt.Fprintf(&b, "🗺️ <b>%s:</b> %s\n", html.EscapeString(c.Label("departamento")), html.EscapeString(req.Departamento))
	fmt.Fprintf(&b, "📊 <b>Tipo:</b> %s\n", html.EscapeString(req.Type))
	fmt.Fprintf(&b, "🌐 <b>Coordenadas:</b> <code>%s</code>\n", Coordinates(req.Lat, req.Lon))
	fmt.Fprintf(&b, "🕐 <b>Recibida:</b> %s\n", req.ReceivedAt.In(r.location).Format("2006-01-02 15:04 MST"))
	fmt.Fprintf(&b, "🆔 <code>%s</code>", html.EscapeString(req.ID))

	buttons := [][]Button{{
		{Text: "✅ Aprobar", Data: events.FormatToken(events.ActionApprove, req.ID)},
		{Text: "❌ Rechazar", Data: events.FormatToken(events.ActionReject, req.ID)},
	}}

	subject := strconv.FormatInt(chatID, 10)
	var extra []Button
	if r.flags.Enabled(featureflags.MapLink, subject) {
		extra = append(extra, Button{Text: "🗺️ Ver en Google Maps", URL: MapURL(req.Lat, req.Lon)})
	}
	if r.flags.Enabled(featureflags.CopyCoords, subject) {
		extra = append(extra, Button{Text: "📋 Copiar coordenadas", Data: events.FormatToken(events.ActionCopy, req.ID)})
	}
	if len(extra) > 0 {
		buttons = append(buttons, extra)
	}

	return OutgoingMessage{ChatID: chatID, Text: b.String(), Buttons: buttons}
}

// Decision renders the static summary that replaces a decided request's message.
func (r *Renderer) Decision(req models.PendingRequest) string {
	c := r.country(req.Country)
	name := html.EscapeString(req.Name)

	var b strings.Builder
	switch req.Status {
	case models.RequestStatusApproved:
		fmt.Fprintf(&b, "✅ <b>APROBADO - %s %s</b>\n\n", c.Flag, html.EscapeString(c.Name))
		fmt.Fprintf(&b, "<b>%s</b> ha sido aprobada.\n", name)
		if req.Persistence == models.PersistencePersisted {
			b.WriteString("💾 Guardada en el mapa compartido.\n")
		} else {
			b.WriteString("⚠️ Pendiente de sincronizar; se reintentará automáticamente.\n")
		}
	case models.RequestStatusRejected:
		fmt.Fprintf(&b, "❌ <b>RECHAZADO - %s %s</b>\n\n", c.Flag, html.EscapeString(c.Name))
		fmt.Fprintf(&b, "<b>%s</b> ha sido rechazada.\n", name)
	default:
		fmt.Fprintf(&b, "⏳ <b>%s</b> sigue pendiente.\n", name)
	}
	fmt.Fprintf(&b, "🏙️ %s, %s\n", html.EscapeString(req.Municipio), html.EscapeString(req.Departamento))
	if !req.DecidedAt.IsZero() {
		fmt.Fprintf(&b, "\n<i>%s · %s</i>", html.EscapeString(req.DecidedBy), req.DecidedAt.In(r.location).Format("2006-01-02 15:04 MST"))
	}
	return strings.TrimRight(b.String(), "\n")
}

// PendingList renders the /lista reply.
func (r *Renderer) PendingList(reqs []models.PendingRequest) string {
	if len(reqs) == 0 {
		return "📭 No hay solicitudes pendientes."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "<b>📋 SOLICITUDES PENDIENTES (%d)</b>\n", len(reqs))
	for _, req := range reqs {
		c := r.country(req.Country)
		fmt.Fprintf(&b, "\n%s <b>%s</b>\n", c.Flag, html.EscapeString(req.Name))
		fmt.Fprintf(&b, "   🆔 <code>%s</code>\n", html.EscapeString(req.ID))
		fmt.Fprintf(&b, "   📍 <code>%s</code>\n", Coordinates(req.Lat, req.Lon))
		fmt.Fprintf(&b, "   🏙️ %s\n", html.EscapeString(req.Municipio))
	}
	return strings.TrimRight(b.String(), "\n")
}

// Countries renders the /paises reply.
func (r *Renderer) Countries() string {
	var b strings.Builder
	b.WriteString("<b>🌎 Países soportados:</b>\n")
	for _, code := range r.regions.Codes() {
		c := r.country(code)
		fmt.Fprintf(&b, "\n%s %s (%s)", c.Flag, html.EscapeString(c.Name), code)
	}
	return b.String()
}

// Status renders the /status reply.
func (r *Renderer) Status(pending int, lastSync time.Time, unpublished int64) string {
	var b strings.Builder
	b.WriteString("<b>📊 ESTADO DEL SISTEMA</b>\n\n")
	b.WriteString("🤖 <b>Bot:</b> Conectado ✅\n")
	fmt.Fprintf(&b, "⏳ <b>Pendientes:</b> %d solicitud(es)\n", pending)
	fmt.Fprintf(&b, "📤 <b>Sin publicar:</b> %d\n", unpublished)
	if lastSync.IsZero() {
		b.WriteString("🔄 <b>Última sincronización:</b> nunca")
	} else {
		fmt.Fprintf(&b, "🔄 <b>Última sincronización:</b> %s", lastSync.In(r.location).Format(time.RFC3339))
	}
	return b.String()
}
