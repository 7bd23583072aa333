// Package views renders the screens the appliance cycles through.
// Content is drawn on a landscape 1-bit canvas matching the panel's
// transpose; the display pipeline rotates it into panel orientation.
package views

import (
	"fmt"
	"image"
	"image/draw"
	"log"
	"net"
	"os"
	"time"

	"github.com/MaxHalford/halfgone"
	"github.com/disintegration/imaging"
	"github.com/skip2/go-qrcode"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	"periph.io/x/devices/v3/ssd1306/image1bit"

	"github.com/inkstat/inkstat/sysmon"
)

// Probes is the monitor surface the views consult. Every query either
// answers or fails towards a placeholder; see sysmon.
type Probes interface {
	CPUPercent() (float64, error)
	MemoryPercent() (float64, error)
	StoragePercent() (float64, error)
	Uptime() (time.Duration, error)
	CPUTemperature() (float64, error)
	IPAddress() (net.IP, error)
	Hostname() (string, error)
	OSPrettyName() (string, error)
	InternetReachable() bool
	ServiceActive(unit string) bool
	WebserverActive() bool
	StartWebserver()
	StopWebserver()
	BatteryVoltage() (float64, int, error)
	Battery() (sysmon.BatteryState, error)
	EnableAccessPoint() (string, error)
}

var _ Probes = (*sysmon.Monitor)(nil)

// View identifies one screen in the rotation cycle.
type View int

const (
	Home View = iota
	Status
	Setup
	System
	Custom
)

func (v View) String() string {
	switch v {
	case Home:
		return "HOME"
	case Status:
		return "STATUS"
	case Setup:
		return "SETUP"
	case System:
		return "SYSTEM"
	case Custom:
		return "CUSTOM"
	}
	return fmt.Sprintf("View(%d)", int(v))
}

// Available returns the view cycle, in rotation order. The custom
// view joins the cycle only when its image file exists.
func Available(customImagePath string) []View {
	vs := []View{Home, Status, Setup, System}
	if customImagePath != "" {
		if _, err := os.Stat(customImagePath); err == nil {
			vs = append(vs, Custom)
		}
	}
	return vs
}

// Renderer draws views. Collaborator hooks are plain funcs so the
// coordination layer can hand in state access without a cycle.
type Renderer struct {
	// Width and Height are the landscape canvas dimensions.
	Width  int
	Height int
	// Name brands the home view and doubles as the access point SSID.
	Name string
	// CustomImagePath is the user-supplied picture for the custom view.
	CustomImagePath string
	// TakeSelectPress consumes a pending short press of the select
	// button, nil when no input wiring exists.
	TakeSelectPress func() bool
	// RequestRefresh asks for a prompt re-render, used while the
	// webserver is still starting.
	RequestRefresh func()
	// Now is the clock for the home view.
	Now func() time.Time

	mon Probes
}

// NewRenderer returns a Renderer with the standard panel dimensions.
func NewRenderer(mon Probes) *Renderer {
	return &Renderer{
		Width:  250,
		Height: 122,
		Name:   "inkstat",
		Now:    time.Now,
		mon:    mon,
	}
}

// Render draws the requested view. It always returns a usable canvas;
// failed probes degrade to placeholder text. With wait set a small
// starting hint is added for refreshes that will take a while to show.
func (r *Renderer) Render(v View, wait bool) image.Image {
	var img draw.Image
	switch v {
	case Home:
		img = r.home()
	case Status:
		img = r.status()
	case Setup:
		img = r.setup()
	case System:
		img = r.system()
	case Custom:
		img = r.custom()
	default:
		img = r.canvas()
		text(img, 60, 50, fmt.Sprintf("unknown view %v", v))
	}
	if wait {
		text(img, 170, 110, "starting ...")
	}
	return img
}

func (r *Renderer) canvas() draw.Image {
	img := image1bit.NewVerticalLSB(image.Rect(0, 0, r.Width, r.Height))
	draw.Draw(img, img.Bounds(), image.NewUniform(image1bit.On), image.Point{}, draw.Src)
	return img
}

func (r *Renderer) home() draw.Image {
	img := r.canvas()

	bigText(img, 6, 30, r.Name, 2)
	bigText(img, 120, 2, r.Now().Format("15:04"), 3)

	ip := "NO IP"
	if addr, err := r.mon.IPAddress(); err == nil {
		ip = addr.String()
	} else {
		log.Printf("views: %v", err)
	}
	text(img, 120, 70, ip)

	text(img, 120, 90, "OS:")
	osName := "?"
	if name, err := r.mon.OSPrettyName(); err == nil {
		osName = name
	}
	text(img, 120, 105, osName)

	if host, err := r.mon.Hostname(); err == nil {
		text(img, 6, 105, host)
	}

	return img
}

func (r *Renderer) system() draw.Image {
	img := r.canvas()
	bigText(img, 0, 0, "System", 2)

	cpu := "?"
	if v, err := r.mon.CPUPercent(); err == nil {
		cpu = fmt.Sprintf("%.0f%%", v)
	}
	text(img, 0, 34, "CPU: "+cpu)

	ram := "?"
	if v, err := r.mon.MemoryPercent(); err == nil {
		ram = fmt.Sprintf("%.0f%%", v)
	}
	text(img, 115, 34, "RAM: "+ram)

	store := "?"
	if v, err := r.mon.StoragePercent(); err == nil {
		store = fmt.Sprintf("%.0f%%", v)
	}
	text(img, 0, 52, "Disk: "+store)

	up := "?"
	if v, err := r.mon.Uptime(); err == nil {
		up = formatUptime(v)
	}
	text(img, 115, 52, "Up: "+up)

	batt := "?"
	if volts, _, err := r.mon.BatteryVoltage(); err == nil {
		batt = fmt.Sprintf("%.2fV", volts)
	}
	text(img, 0, 70, "Battery: "+batt)

	temp := "?"
	if v, err := r.mon.CPUTemperature(); err == nil {
		temp = fmt.Sprintf("%.0f°C", v)
	}
	text(img, 0, 88, "Temperature: "+temp)

	return img
}

func (r *Renderer) status() draw.Image {
	img := r.canvas()
	hline(img, 0, r.Width-1, 40)
	hline(img, 0, r.Width-1, 80)

	state, err := r.mon.Battery()
	if err != nil {
		log.Printf("views: %v", err)
	}
	_, percent, verr := r.mon.BatteryVoltage()
	if verr != nil {
		text(img, 0, 14, fmt.Sprintf("%v level: ?", state))
	} else {
		text(img, 0, 14, fmt.Sprintf("%v level: %d%%", state, percent))
	}

	if r.mon.InternetReachable() {
		text(img, 0, 54, "Internet  CONNECTED")
	} else {
		text(img, 0, 54, "Internet  NOT CONNECTED")
	}

	if r.mon.ServiceActive("docker.service") {
		text(img, 0, 94, "Docker    RUNNING")
	} else {
		text(img, 0, 94, "Docker    STOPPED")
	}

	return img
}

func (r *Renderer) setup() draw.Image {
	img := r.canvas()

	ip := "10.50.0.1"
	if addr, err := r.mon.IPAddress(); err == nil {
		ip = addr.String()
	}

	if !r.mon.WebserverActive() {
		text(img, 30, 10, "Webserver is not running")
		text(img, 30, 80, "Press SELECT to enable it")
		if r.takeSelect() {
			r.mon.StartWebserver()
			img = r.canvas()
			text(img, 30, 10, "Webserver is starting")
			text(img, 30, 80, "Please wait ...")
			if r.RequestRefresh != nil {
				r.RequestRefresh()
			}
		}
		return img
	}

	text(img, 130, 0, ip)
	text(img, 0, 98, "Webserver is running")
	text(img, 0, 110, "Press SELECT to disable it")

	if r.mon.InternetReachable() {
		text(img, 0, 0, "WIFI AP OFF")
	} else {
		// No usable uplink: bring up the fallback access point and
		// print its credentials plus a joinable QR code.
		passwd, err := r.mon.EnableAccessPoint()
		if err != nil {
			log.Printf("views: access point: %v", err)
			passwd = "?"
		}
		text(img, 0, 0, "WIFI AP ON")

		layer := image.NewGray(image.Rect(0, 0, 90, 30))
		draw.Draw(layer, layer.Bounds(), image.White, image.Point{}, draw.Src)
		text(layer, 0, 1, "SSID:"+r.Name)
		text(layer, 0, 16, "PASS:"+passwd)
		rotated := imaging.Rotate90(layer)
		draw.Draw(img, image.Rect(85, 10, 85+30, 10+90), rotated, image.Point{}, draw.Src)

		wifi := fmt.Sprintf("WIFI:S:%s;T:WPA;P:%s;;", r.Name, passwd)
		if qr, err := qrImage(wifi, 80); err == nil {
			draw.Draw(img, image.Rect(0, 15, 80, 95), qr, image.Point{}, draw.Src)
		}
	}

	if qr, err := qrImage("http://"+ip, 80); err == nil {
		draw.Draw(img, image.Rect(150, 15, 230, 95), qr, image.Point{}, draw.Src)
	}

	if r.takeSelect() {
		r.mon.StopWebserver()
		img = r.canvas()
		text(img, 30, 10, "Webserver is not running")
		text(img, 30, 80, "Press SELECT to enable it")
	}

	return img
}

func (r *Renderer) custom() draw.Image {
	img := r.canvas()
	src, err := imaging.Open(r.CustomImagePath)
	if err != nil {
		log.Printf("views: custom image: %v", err)
		text(img, 40, 50, "Custom image unavailable")
		return img
	}
	gray := image.NewGray(img.Bounds())
	draw.Draw(gray, gray.Bounds(), image.White, image.Point{}, draw.Src)
	scaled := imaging.Fit(src, r.Width, r.Height, imaging.Lanczos)
	draw.Draw(gray, scaled.Bounds(), scaled, image.Point{}, draw.Src)
	draw.Draw(img, img.Bounds(), halfgone.FloydSteinbergDitherer{}.Apply(gray), image.Point{}, draw.Src)
	return img
}

func (r *Renderer) takeSelect() bool {
	return r.TakeSelectPress != nil && r.TakeSelectPress()
}

func qrImage(content string, size int) (image.Image, error) {
	q, err := qrcode.New(content, qrcode.High)
	if err != nil {
		return nil, err
	}
	q.DisableBorder = true
	return q.Image(size), nil
}

// text draws one line with its top-left corner at (x, y).
func text(dst draw.Image, x, y int, s string) {
	d := font.Drawer{
		Dst:  dst,
		Src:  image.Black,
		Face: basicfont.Face7x13,
		Dot:  fixed.P(x, y+basicfont.Face7x13.Ascent),
	}
	d.DrawString(s)
}

// bigText draws s scaled up by an integer factor, since the bitmap
// face only comes in one size.
func bigText(dst draw.Image, x, y int, s string, scale int) {
	face := basicfont.Face7x13
	w := font.MeasureString(face, s).Ceil()
	if w == 0 {
		return
	}
	tmp := image.NewGray(image.Rect(0, 0, w, face.Height))
	draw.Draw(tmp, tmp.Bounds(), image.White, image.Point{}, draw.Src)
	d := font.Drawer{
		Dst:  tmp,
		Src:  image.Black,
		Face: face,
		Dot:  fixed.P(0, face.Ascent),
	}
	d.DrawString(s)
	big := imaging.Resize(tmp, w*scale, face.Height*scale, imaging.NearestNeighbor)
	draw.Draw(dst, image.Rect(x, y, x+w*scale, y+face.Height*scale), big, image.Point{}, draw.Src)
}

func hline(dst draw.Image, x0, x1, y int) {
	for x := x0; x <= x1; x++ {
		dst.Set(x, y, image1bit.Off)
	}
}

func formatUptime(d time.Duration) string {
	d = d.Round(time.Minute)
	days := int(d.Hours()) / 24
	hours := int(d.Hours()) % 24
	mins := int(d.Minutes()) % 60
	if days > 0 {
		return fmt.Sprintf("%dd %dh", days, hours)
	}
	if hours > 0 {
		return fmt.Sprintf("%dh %dm", hours, mins)
	}
	return fmt.Sprintf("%dm", mins)
}
