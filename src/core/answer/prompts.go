package answer

const (
	RefineQuestionPromptTmpl = `
Human: Please enhance the following question to make it
clearer and more specific if needed.
Question: {{.Question}}
Enhanced Question:
`
	AnswerPromptTmpl = `
Human: Please use the given context to provide a concise answer
to the question. If you don't know the answer, just say that
you don't know, don't try to make up an answer.
<context>
{{.Context}}
</context>

Question: {{.Question}}

Assistant:
`
)
