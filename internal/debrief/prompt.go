package debrief

import (
	"strings"

	"github.com/nicolascatez-wq/xhec-interview-coach/internal/interview"
)

const rubric = `Génère un DEBRIEF STRUCTURÉ en analysant les réponses du candidat.

Réponds en JSON avec EXACTEMENT ce format :
{
  "points_forts": [
    {"titre": "Titre court du point fort", "detail": "Explication avec exemple de la session"}
  ],
  "points_amelioration": [
    {"titre": "Titre court du point à améliorer", "detail": "Explication avec exemple de la session", "conseil": "Conseil concret pour s'améliorer"}
  ],
  "note_globale": {"score": "X/10", "commentaire": "Appréciation globale en 2-3 phrases"},
  "prochain_objectif": "Un objectif concret pour la prochaine session"
}

Sois HONNÊTE et CONSTRUCTIF. Cite des exemples spécifiques de la session.`

// Prompt builds the single debrief request for a session transcript.
func Prompt(mode interview.Mode, history []interview.Turn) string {
	var b strings.Builder
	b.WriteString("Tu viens de coacher un candidat pour son entretien X-HEC Entrepreneurs.\n")
	if mode == interview.ModeTimed {
		b.WriteString("Il s'agissait d'une simulation d'entretien complète, sans feedback intermédiaire.\n")
	}
	b.WriteString("Voici le transcript complet de la session :\n\n")
	for i, t := range history {
		if i > 0 {
			b.WriteString("\n\n")
		}
		if t.Role == interview.RoleCoach {
			b.WriteString("Coach: ")
		} else {
			b.WriteString("Candidat: ")
		}
		b.WriteString(t.Text)
	}
	b.WriteString("\n\n---\n\n")
	b.WriteString(rubric)
	return b.String()
}
