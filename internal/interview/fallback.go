package interview

// FallbackQuestions is the generic question bank used when a candidate
// prepares a session without any question of their own.
func FallbackQuestions() []Question {
	return []Question{
		{Text: "Pourquoi souhaitez-vous rejoindre le programme X-HEC Entrepreneurs ?", Theme: "Motivation", Difficulty: "Facile"},
		{Text: "Parlez-moi de votre projet entrepreneurial.", Theme: "Projet", Difficulty: "Moyen"},
		{Text: "Quelle est votre plus grande réussite professionnelle ou personnelle ?", Theme: "Parcours", Difficulty: "Moyen"},
		{Text: "Comment gérez-vous l'échec ? Donnez un exemple concret.", Theme: "Soft Skills", Difficulty: "Difficile"},
		{Text: "Où vous voyez-vous dans 5 ans ?", Theme: "Vision", Difficulty: "Moyen"},
		{Text: "Quelles compétences pensez-vous développer grâce à ce programme ?", Theme: "Motivation", Difficulty: "Facile"},
		{Text: "Comment votre parcours vous a-t-il préparé à l'entrepreneuriat ?", Theme: "Parcours", Difficulty: "Moyen"},
		{Text: "Quel est le plus grand défi que vous avez surmonté ?", Theme: "Soft Skills", Difficulty: "Difficile"},
		{Text: "Comment comptez-vous contribuer à la communauté X-HEC ?", Theme: "Motivation", Difficulty: "Moyen"},
		{Text: "Qu'est-ce qui vous différencie des autres candidats ?", Theme: "Personnel", Difficulty: "Difficile"},
		{Text: "Parlez-moi d'une situation où vous avez dû convaincre quelqu'un.", Theme: "Soft Skills", Difficulty: "Moyen"},
		{Text: "Comment définissez-vous le succès ?", Theme: "Vision", Difficulty: "Moyen"},
	}
}
