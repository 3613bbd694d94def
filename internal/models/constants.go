package models

const (
	ContextSeparator = "\n---\n"
	ThinkTag         = `(?s)<think>.*?</think>`

	DefaultQuestionColumn = "Vraag van klant"
	DefaultAnswerColumn   = "Antwoord klantenservice"

	// ManifestVersion is bumped whenever the on-disk index layout changes.
	ManifestVersion = 1
)

var (
	DefaultSystemPrompt = `Je bent de AI-assistent van Swap Je Lease. Antwoord vriendelijk, kort en duidelijk. Gebruik eenvoudige taal en spreek de gebruiker aan met 'je'.`

	DefaultPromptTemplate = `Beantwoord de vraag uitsluitend op basis van de onderstaande context.
Staat het antwoord niet in de context, zeg dan eerlijk dat je het niet weet en verwijs naar de klantenservice.

<context>
{context}
</context>

Vraag: {question}
Antwoord:`

	// FriendlyErrorMessage is shown to end users when a provider call fails.
	FriendlyErrorMessage = "Er ging iets mis bij het ophalen van een antwoord. Probeer het zo nog eens."
)
