package briefing

const planPrompt = `You are the planning step of a research assistant.
Analyze the research request and produce a research plan.

Request: %s

Respond ONLY with valid JSON in the following format:
{
  "topic": "main topic",
  "scope": "what the briefing should cover",
  "search_queries": ["query 1", "query 2", "query 3"],
  "structure": ["section 1", "section 2"]
}
Do not include any other text or explanation.`

const draftPrompt = `You are a research writer. Write a comprehensive research briefing on the topic below.

Topic: %s

Use the following approved sources:
%s

Write a well-structured briefing with:
1. Executive Summary
2. Key Findings
3. Detailed Analysis
4. Conclusions

Cite sources with their numbers, e.g. [1], [2].`

const revisePrompt = `You are a research critic. Review the briefing below written for the topic "%s" and improve it.
Check accuracy, clarity, completeness and citation use.

Briefing:
%s

Return the complete improved briefing only.`

// sourceExcerptChars bounds how much of each source's content goes into the draft prompt.
const sourceExcerptChars = 500
