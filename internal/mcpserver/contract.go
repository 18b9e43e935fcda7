package mcpserver

// LibraryFormat describes the Markdown note format the library ingests.
// LLM consumers should follow it when writing notes.
const LibraryFormat = `# Lumen Library Format

Every note is a Markdown file under the library root. Its id is the path
without the .md extension: ` + "`" + `bio/cells.md` + "`" + ` has id ` + "`" + `bio/cells` + "`" + `.

## Structure

` + "```" + `markdown
---
title: Cell Structure               # OPTIONAL – defaults to the first "# " heading
subject:                            # OPTIONAL – defaults to the top-level folder
  id: bio
  name: Biology
  color: "#22c55e"
  icon: leaf
week: 3                             # OPTIONAL – course week, orders notes
read_minutes: 6                     # OPTIONAL – estimated from the body otherwise
summary: One line shown in listings # OPTIONAL
cards:                              # OPTIONAL – flash cards generated from this note
  - id: mito                        # OPTIONAL – defaults to <note id>#<n>
    question: What is the powerhouse of the cell?
    kind: multiple_choice           # multiple_choice | true_false | fact_check | synthesis | flashcard
    difficulty: 2
    explanation: Mitochondria produce ATP.
    options:                        # option ids default to a, b, c…
      - text: Nucleus
      - text: Mitochondria
        correct: true
  - question: Describe osmosis.
    answer: Water moving across a membrane toward higher solute concentration.
links:                              # OPTIONAL – semantic links to other notes
  - target: bio/dna                 # note id, file name or title
    similarity: 0.85                # 0..1, default 0.5
    type: prerequisite              # prerequisite | related | analogy, default related
    strength: 0.7                   # 0..1, defaults to similarity
---

# Cell Structure

Body text in standard Markdown. [[Photosynthesis]] links become "related"
links with similarity 0.5 unless the pair is already linked.
` + "```" + `

## Rules

1. **Subject** may also be written as a plain id: ` + "`" + `subject: bio` + "`" + `. Fields a note
   leaves out keep the values other notes gave the subject.
2. **Cards** without options are flashcards graded by self-assessment. A
   multiple_choice card needs exactly one correct option; other kinds need at
   least one. Invalid cards are skipped and logged.
3. **Card ids** must stay stable across edits, or the card's review history is lost.
   Cards removed from a note are deleted when no other note declares them.
4. **Links** are undirected. Declaring the same pair from both notes keeps the
   one written last.
5. **Paths** use forward slashes, end with .md and never start with a dot.
   Hidden folders are ignored.
6. **Encoding** is UTF-8. Broken YAML frontmatter rejects the whole file.
`
