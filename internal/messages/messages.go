// Package messages renders every user-facing sentence in the configured language.
package messages

import (
	"fmt"

	"github.com/MeKo-Tech/bpvoice/internal/classify"
	"github.com/MeKo-Tech/bpvoice/internal/extract"
	"github.com/MeKo-Tech/bpvoice/internal/orientation"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/message/catalog"
)

// Key identifies a message in the catalog.
type Key string

const (
	AppReady          Key = "app.ready"
	CameraStarted     Key = "camera.started"
	CameraStopped     Key = "camera.stopped"
	CameraError       Key = "camera.error"
	CameraRequired    Key = "camera.required"
	CaptureProcessing Key = "capture.processing"
	CaptureError      Key = "capture.error"
	AutoOn            Key = "auto.on"
	AutoOff           Key = "auto.off"
	RepeatNone        Key = "repeat.none"
	FailureTip1       Key = "failure.tip1"
	FailureTip2       Key = "failure.tip2"
	FailureTip3       Key = "failure.tip3"
	ResultPressure    Key = "result.pressure"
	ResultPulse       Key = "result.pulse"
	ResultAssessment  Key = "result.assessment"
)

// Supported lists the catalog languages; the first is the fallback.
var Supported = []language.Tag{language.BrazilianPortuguese, language.English}

var translations = map[language.Tag]map[Key]string{
	language.BrazilianPortuguese: {
		AppReady:          "Aplicativo pronto. Pressione Iniciar Câmera para começar.",
		CameraStarted:     "Câmera iniciada. Aponte para o medidor de pressão.",
		CameraStopped:     "Câmera desligada.",
		CameraError:       "Erro ao acessar a câmera. Verifique as permissões.",
		CameraRequired:    "Inicie a câmera primeiro.",
		CaptureProcessing: "Processando imagem, aguarde.",
		CaptureError:      "Ocorreu um erro ao processar a imagem. Tente novamente.",
		AutoOn:            "Modo automático ativado. A leitura será feita quando o medidor estiver posicionado.",
		AutoOff:           "Modo automático desativado.",
		RepeatNone:        "Nenhuma leitura disponível para repetir.",
		FailureTip1:       "Não foi possível ler os números. Aproxime ou afaste o celular e melhore a iluminação.",
		FailureTip2:       "Ainda não consegui ler. Mantenha o celular firme e evite reflexos na tela do medidor.",
		FailureTip3:       "Leitura não reconhecida. Verifique se o medidor está ligado e mostrando o resultado, e tente novamente.",
		ResultPressure:    "Leitura concluída. Pressão sistólica, ou máxima: %d milímetros de mercúrio. Pressão diastólica, ou mínima: %d milímetros de mercúrio.",
		ResultPulse:       "Pulso: %d batimentos por minuto.",
		ResultAssessment:  "Avaliação: %s.",

		guidanceKey(orientation.GuidanceNoDisplay):  "Display não detectado. Aponte para o medidor.",
		guidanceKey(orientation.GuidanceMoveRight):  "Mova para a direita",
		guidanceKey(orientation.GuidanceMoveLeft):   "Mova para a esquerda",
		guidanceKey(orientation.GuidanceMoveDown):   "Mova para baixo",
		guidanceKey(orientation.GuidanceMoveUp):     "Mova para cima",
		guidanceKey(orientation.GuidanceMoveCloser): "Aproxime o celular",
		guidanceKey(orientation.GuidanceMoveBack):   "Afaste o celular",
		guidanceKey(orientation.GuidanceAligned):    "Posição correta! Pressione Ler Pressão.",

		severityKey(classify.SeverityLow):           "Pressão arterial baixa",
		severityKey(classify.SeverityNormal):        "Pressão arterial normal",
		severityKey(classify.SeverityElevated):      "Pressão arterial elevada",
		severityKey(classify.SeverityHypertension1): "Hipertensão estágio 1 - Consulte um médico",
		severityKey(classify.SeverityHypertension2): "Hipertensão estágio 2 - Procure atendimento médico",
		severityKey(classify.SeverityCrisis):        "CRISE HIPERTENSIVA - Procure atendimento de emergência!",

		levelKey(classify.LevelNormal):   "Normal",
		levelKey(classify.LevelElevated): "Elevada",
		levelKey(classify.LevelHigh):     "Alta",
	},
	language.English: {
		AppReady:          "App ready. Press Start Camera to begin.",
		CameraStarted:     "Camera started. Point at the blood pressure monitor.",
		CameraStopped:     "Camera stopped.",
		CameraError:       "Could not access the camera. Check the permissions.",
		CameraRequired:    "Start the camera first.",
		CaptureProcessing: "Processing image, please wait.",
		CaptureError:      "An error occurred while processing the image. Please try again.",
		AutoOn:            "Automatic mode on. A reading will be taken when the monitor is in position.",
		AutoOff:           "Automatic mode off.",
		RepeatNone:        "No reading available to repeat.",
		FailureTip1:       "Could not read the numbers. Move the phone closer or farther and improve the lighting.",
		FailureTip2:       "Still unable to read. Hold the phone steady and avoid glare on the monitor screen.",
		FailureTip3:       "Reading not recognized. Check that the monitor is on and showing the result, then try again.",
		ResultPressure:    "Reading complete. Systolic pressure, or maximum: %d millimeters of mercury. Diastolic pressure, or minimum: %d millimeters of mercury.",
		ResultPulse:       "Pulse: %d beats per minute.",
		ResultAssessment:  "Assessment: %s.",

		guidanceKey(orientation.GuidanceNoDisplay):  "Display not detected. Point at the monitor.",
		guidanceKey(orientation.GuidanceMoveRight):  "Move right",
		guidanceKey(orientation.GuidanceMoveLeft):   "Move left",
		guidanceKey(orientation.GuidanceMoveDown):   "Move down",
		guidanceKey(orientation.GuidanceMoveUp):     "Move up",
		guidanceKey(orientation.GuidanceMoveCloser): "Move the phone closer",
		guidanceKey(orientation.GuidanceMoveBack):   "Move the phone back",
		guidanceKey(orientation.GuidanceAligned):    "Position correct! Press Read Pressure.",

		severityKey(classify.SeverityLow):           "Low blood pressure",
		severityKey(classify.SeverityNormal):        "Normal blood pressure",
		severityKey(classify.SeverityElevated):      "Elevated blood pressure",
		severityKey(classify.SeverityHypertension1): "Hypertension stage 1 - consult a doctor",
		severityKey(classify.SeverityHypertension2): "Hypertension stage 2 - seek medical care",
		severityKey(classify.SeverityCrisis):        "HYPERTENSIVE CRISIS - seek emergency care!",

		levelKey(classify.LevelNormal):   "Normal",
		levelKey(classify.LevelElevated): "Elevated",
		levelKey(classify.LevelHigh):     "High",
	},
}

var (
	cat     catalog.Catalog
	matcher = language.NewMatcher(Supported)
)

func init() {
	b := catalog.NewBuilder(catalog.Fallback(Supported[0]))
	for tag, msgs := range translations {
		for k, v := range msgs {
			if err := b.SetString(tag, string(k), v); err != nil {
				panic(fmt.Sprintf("messages: %s/%s: %v", tag, k, err))
			}
		}
	}
	cat = b
}

func guidanceKey(g orientation.Guidance) Key { return Key("guidance." + g.String()) }
func severityKey(s classify.Severity) Key    { return Key("severity." + s.String()) }
func levelKey(l classify.Level) Key          { return Key("level." + string(l)) }

// Localizer renders messages for one language.
type Localizer struct {
	tag     language.Tag
	printer *message.Printer
}

// New matches lang (a BCP 47 tag such as "pt-BR") against the catalog languages.
// Unknown or malformed tags fall back to Brazilian Portuguese.
func New(lang string) *Localizer {
	tag := Supported[0]
	if parsed, err := language.Parse(lang); err == nil {
		_, idx, conf := matcher.Match(parsed)
		if conf != language.No {
			tag = Supported[idx]
		}
	}
	return &Localizer{tag: tag, printer: message.NewPrinter(tag, message.Catalog(cat))}
}

// Tag returns the matched language.
func (l *Localizer) Tag() language.Tag {
	return l.tag
}

// Language returns the matched language as a BCP 47 string for speech engines.
func (l *Localizer) Language() string {
	return l.tag.String()
}

// Text renders key with args.
func (l *Localizer) Text(key Key, args ...any) string {
	return l.printer.Sprintf(string(key), args...)
}

// Guidance renders an orientation instruction.
func (l *Localizer) Guidance(g orientation.Guidance) string {
	return l.Text(guidanceKey(g))
}

// Severity renders the assessment of a classification.
func (l *Localizer) Severity(s classify.Severity) string {
	return l.Text(severityKey(s))
}

// Level renders a per-value category.
func (l *Localizer) Level(lv classify.Level) string {
	return l.Text(levelKey(lv))
}

// FailureTip returns the guidance for the n-th consecutive failed read, starting at 1.
func (l *Localizer) FailureTip(n int) string {
	switch {
	case n <= 1:
		return l.Text(FailureTip1)
	case n == 2:
		return l.Text(FailureTip2)
	default:
		return l.Text(FailureTip3)
	}
}

// Reading renders the full spoken result.
func (l *Localizer) Reading(r extract.Reading, c classify.Classification) string {
	s := l.Text(ResultPressure, r.Systolic, r.Diastolic)
	if r.Pulse != nil {
		s += " " + l.Text(ResultPulse, *r.Pulse)
	}
	return s + " " + l.Text(ResultAssessment, l.Severity(c.Severity))
}
