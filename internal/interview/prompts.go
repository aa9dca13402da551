package interview

import (
	"fmt"
	"strings"
)

const (
	dossierExcerptLimit = 3000
	programExcerptLimit = 2000
)

const coachPersona = `Tu es un coach d'entretien exigeant et direct pour les candidats au Master X-HEC Entrepreneurs.

## TA PERSONNALITÉ
- SHARP : direct, sans détour, pas de langue de bois
- EXIGEANT : comme un vrai membre du jury X-HEC
- CONSTRUCTIF : tu pointes les faiblesses mais donnes toujours une piste d'amélioration
- Tu parles en français, tu tutoies le candidat, phrases courtes faites pour l'oral

## CE QUE TU ATTENDS D'UNE RÉPONSE
1. COURTE : 1 à 2 minutes à l'oral
2. CLAIRE : réponse directe à la question
3. Un exemple concret (pro ou perso)
4. Un lien avec X-HEC, l'entrepreneuriat ou une compétence visée

## CE QUE TU SANCTIONNES
- Les tics verbaux à répétition ("euh", "en fait", "du coup")
- Les réponses trop longues ou qui tournent en rond
- L'absence d'exemple concret ou de lien avec X-HEC
- Les réponses évasives et le manque de conviction`

// SystemPrompt builds the coach persona with the candidate's context.
func (s *Session) SystemPrompt() string {
	var b strings.Builder
	b.WriteString(coachPersona)
	if c := excerpt(s.programContext, programExcerptLimit); c != "" {
		b.WriteString("\n\n## LE MASTER X-HEC ENTREPRENEURS\n")
		b.WriteString(c)
	}
	if d := excerpt(s.dossier, dossierExcerptLimit); d != "" {
		b.WriteString("\n\n## DOSSIER DU CANDIDAT\n")
		b.WriteString(d)
	}
	if q, ok := s.CurrentQuestion(); ok {
		b.WriteString("\n\n## QUESTION EN COURS\n")
		b.WriteString(q.Text)
		if q.Answer != "" {
			b.WriteString("\n\n## RÉPONSE PRÉPARÉE PAR LE CANDIDAT\n")
			b.WriteString(q.Answer)
		}
	}
	return b.String()
}

// ReplyInstructions tells the language backend how to react to the
// candidate's last turn. lastQuestion is the question that turn answered.
func (s *Session) ReplyInstructions(lastQuestion *Question) string {
	var b strings.Builder
	b.WriteString(s.SystemPrompt())
	b.WriteString("\n\n## TA TÂCHE MAINTENANT\n")
	switch {
	case lastQuestion == nil:
		b.WriteString(s.openTurnInstructions())
	case s.GivesFeedback():
		fmt.Fprintf(&b, "Question posée : %s\n", lastQuestion.Text)
		b.WriteString("Donne un feedback COURT et DIRECT sur sa réponse (3 à 4 phrases max) : dis si c'est bien ou pas, pointe 1 ou 2 problèmes précis, donne UN conseil concret. Ne pose pas la question suivante. Pas de préfixe du type \"Feedback :\".")
	default:
		b.WriteString("Accuse réception de la réponse en une courte phrase neutre, sans feedback ni évaluation. Ne pose pas la question suivante.")
	}
	return b.String()
}

// openTurnInstructions covers a candidate turn that answered no question.
func (s *Session) openTurnInstructions() string {
	switch s.mode {
	case ModeTimed:
		if len(s.Asked()) == 0 {
			return "Le candidat vient de se présenter. Remercie-le en une phrase, sans aucun commentaire sur le fond. Ne pose pas de question."
		}
		return "Accuse réception en une courte phrase neutre, sans feedback ni évaluation. Ne pose pas de question."
	case ModeSequential:
		return "Réponds brièvement au candidat (2 phrases max). Ne pose pas de question : la suivante arrive juste après."
	}
	return "Réponds brièvement au candidat (2 phrases max) et invite-le à choisir un thème ou une question."
}

// IntroInstructions asks the language backend for a short personalised greeting.
func (s *Session) IntroInstructions() string {
	var b strings.Builder
	b.WriteString(coachPersona)
	if c := excerpt(s.programContext, 500); c != "" {
		b.WriteString("\n\nContexte du programme :\n")
		b.WriteString(c)
	}
	if d := excerpt(s.dossier, 500); d != "" {
		b.WriteString("\n\nExtrait du dossier du candidat :\n")
		b.WriteString(d)
	}
	b.WriteString("\n\nPrésente-toi BRIÈVEMENT (1 à 2 phrases), chaleureux mais professionnel. Ne pose aucune question d'entretien.")
	return b.String()
}

func excerpt(s string, n int) string {
	s = strings.TrimSpace(s)
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
