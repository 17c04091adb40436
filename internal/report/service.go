package report

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/signintech/gopdf"

	"medical-consilium/internal/consultation"
)

// Notifier delivers the report. *telegram.Client satisfies it.
type Notifier interface {
	SendMessage(ctx context.Context, chatID int64, text string) error
	SendDocument(ctx context.Context, chatID int64, fileData []byte, fileName string) error
}

// DefaultFontPaths are the usual DejaVuSans locations on Alpine and Debian.
var DefaultFontPaths = []string{
	"/usr/share/fonts/ttf-dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/dejavu/DejaVuSans.ttf",
	"/usr/share/fonts/truetype/dejavu/DejaVuSans.ttf",
}

// ErrNoFont is returned when none of the configured fonts could be loaded.
var ErrNoFont = errors.New("report: no usable TTF font")

const (
	pageBottom = 780.0
	textWidth  = 500.0
)

type Service struct {
	notifier     Notifier
	doctorChatID int64
	fontPaths    []string
}

// NewService builds the report service. notifier may be nil when reports are
// only downloaded, never pushed.
func NewService(notifier Notifier, doctorChatID int64, fontPaths ...string) *Service {
	if len(fontPaths) == 0 {
		fontPaths = DefaultFontPaths
	}
	return &Service{
		notifier:     notifier,
		doctorChatID: doctorChatID,
		fontPaths:    fontPaths,
	}
}

// SendDoctorReport sends a short text summary followed by the PDF.
func (s *Service) SendDoctorReport(ctx context.Context, snap consultation.Snapshot) error {
	if s.notifier == nil || s.doctorChatID == 0 {
		return errors.New("report: no delivery channel configured")
	}
	if err := s.notifier.SendMessage(ctx, s.doctorChatID, Summary(snap)); err != nil {
		return fmt.Errorf("send summary: %w", err)
	}
	pdf, err := s.Render(snap)
	if err != nil {
		return err
	}
	fileName := fmt.Sprintf("report_%s.pdf", snap.ID.String())
	if err := s.notifier.SendDocument(ctx, s.doctorChatID, pdf, fileName); err != nil {
		return fmt.Errorf("send document: %w", err)
	}
	return nil
}

// Summary is the plain-text verdict line sent ahead of the PDF.
func Summary(snap consultation.Snapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Consultation %s (%s, %s)\n", snap.ID, snap.Mode, snap.State)
	if snap.Verdict == nil {
		b.WriteString("No verdict: no specialist produced an opinion.")
		return b.String()
	}
	v := snap.Verdict
	fmt.Fprintf(&b, "Consensus: %s\nAgreement: %d of %d (%.0f%%)\nAverage confidence: %.1f",
		v.ConsensusDiagnosis, v.AgreementCount, v.TotalAgents, v.AgreementRatio*100, v.AverageConfidence)
	return b.String()
}

// Render builds the PDF report for snap.
func (s *Service) Render(snap consultation.Snapshot) ([]byte, error) {
	pdf := gopdf.GoPdf{}
	pdf.Start(gopdf.Config{PageSize: *gopdf.PageSizeA4})
	pdf.AddPage()

	var fontErr error
	fontLoaded := false
	for _, path := range s.fontPaths {
		if err := pdf.AddTTFFont("DejaVu", path); err == nil {
			fontLoaded = true
			break
		} else {
			fontErr = err
		}
	}
	if !fontLoaded {
		return nil, fmt.Errorf("%w: %v", ErrNoFont, fontErr)
	}

	w := &writer{pdf: &pdf}
	w.heading(20, "Multi-specialist consultation report")
	w.gap(10)

	w.line(11, fmt.Sprintf("Consultation: %s", snap.ID))
	w.line(11, fmt.Sprintf("Started: %s", snap.CreatedAt.Format("02.01.2006 15:04")))
	w.line(11, fmt.Sprintf("Mode: %s, rounds: %d, state: %s", snap.Mode, snap.Round, snap.State))
	if snap.Case.PatientRef != "" {
		w.line(11, fmt.Sprintf("Patient: %s", snap.Case.PatientRef))
	}
	w.gap(10)

	w.heading(14, "Case")
	w.paragraph(11, snap.Case.Symptoms)
	for _, qa := range snap.Case.StructuredAnswers {
		w.paragraph(11, fmt.Sprintf("- %s %s", qa.Question, qa.Answer))
	}
	w.gap(10)

	w.heading(14, "Verdict")
	if snap.Verdict == nil {
		w.paragraph(11, "No verdict available.")
	} else {
		for _, l := range strings.Split(Summary(snap), "\n")[1:] {
			w.paragraph(11, l)
		}
	}
	w.gap(10)

	w.heading(14, "Specialist opinions")
	for _, a := range snap.Agents {
		op, ok := snap.Opinions[a.ID]
		if !ok {
			w.paragraph(11, fmt.Sprintf("%s (%s): no opinion", a.Name, a.Specialty))
			continue
		}
		w.paragraph(11, fmt.Sprintf("%s (%s): %s, confidence %d%%", a.Name, a.Specialty, op.Diagnosis, op.Confidence))
		w.paragraph(10, "  "+op.Recommendation)
	}
	w.gap(10)

	w.heading(14, "Transcript")
	for _, m := range snap.Transcript {
		w.paragraph(9, fmt.Sprintf("[%s %s] %s", m.CreatedAt.Format("15:04:05"), m.SenderID, m.Content))
	}
	if w.err != nil {
		return nil, w.err
	}

	var buf bytes.Buffer
	if _, err := pdf.WriteTo(&buf); err != nil {
		return nil, fmt.Errorf("failed to write PDF: %w", err)
	}
	return buf.Bytes(), nil
}

// writer keeps the first error and breaks pages.
type writer struct {
	pdf *gopdf.GoPdf
	err error
}

func (w *writer) heading(size int, text string) {
	w.line(size, text)
	w.gap(4)
}

func (w *writer) line(size int, text string) {
	if w.err != nil {
		return
	}
	if w.err = w.pdf.SetFont("DejaVu", "", size); w.err != nil {
		return
	}
	w.breakIfNeeded(float64(size) + 4)
	if w.err = w.pdf.Cell(nil, text); w.err != nil {
		return
	}
	w.pdf.Br(float64(size) + 4)
}

func (w *writer) paragraph(size int, text string) {
	if w.err != nil {
		return
	}
	if w.err = w.pdf.SetFont("DejaVu", "", size); w.err != nil {
		return
	}
	for _, raw := range strings.Split(text, "\n") {
		if raw == "" {
			w.pdf.Br(float64(size))
			continue
		}
		lines, err := w.pdf.SplitText(raw, textWidth)
		if err != nil {
			lines = []string{raw}
		}
		for _, l := range lines {
			w.breakIfNeeded(float64(size) + 3)
			if w.err = w.pdf.Cell(nil, l); w.err != nil {
				return
			}
			w.pdf.Br(float64(size) + 3)
		}
	}
}

func (w *writer) gap(h float64) {
	if w.err == nil {
		w.pdf.Br(h)
	}
}

func (w *writer) breakIfNeeded(h float64) {
	if w.pdf.GetY()+h > pageBottom {
		w.pdf.AddPage()
	}
}
