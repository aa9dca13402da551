package interview

import (
	"fmt"
	"strings"
	"time"
)

const defaultGreeting = "Bonjour, je suis ton coach pour l'entretien X-HEC Entrepreneurs."

const (
	themeExhaustedText = "Tu as fait le tour de ce thème ! Tu veux passer à un autre thème ou faire le débrief ?"
	// PoolExhaustedText is spoken when every question has been asked.
	PoolExhaustedText = "On a fait le tour ! Tu veux faire le débrief ?"
	// TimeUpText closes a timed simulation.
	TimeUpText = "C'est la fin de la simulation. Merci, on passe au débrief."
	// ThemeExhaustedText is spoken when the selected theme has no question left.
	ThemeExhaustedText = themeExhaustedText
)

func firstQuestionText(q Question) string {
	return "Première question : " + q.Text
}

func nextQuestionText(m Mode, q Question) string {
	switch m {
	case ModeSequential:
		return "Question suivante : " + q.Text
	case ModeThematic, ModeTimed:
		return q.Text
	}
	return q.Text
}

func themeMenuText(themes []ThemeCount) string {
	names := make([]string, 0, len(themes))
	for _, t := range themes {
		names = append(names, t.Name)
	}
	return fmt.Sprintf("Voici les thèmes disponibles : %s. Sur quel thème veux-tu travailler ?", strings.Join(names, ", "))
}

func presentationText(budget time.Duration) string {
	return fmt.Sprintf("On démarre une simulation d'entretien de %d minutes, sans feedback intermédiaire. Pour commencer, présente-toi en 2 à 3 minutes.", int(budget.Minutes()))
}

func themeSelectedText(theme string, n int) string {
	return fmt.Sprintf("Très bien, on va travailler sur le thème « %s ». J'ai %d questions pour toi sur ce sujet. Tu veux que je choisisse une question au hasard, ou tu préfères choisir toi-même ?", theme, n)
}
