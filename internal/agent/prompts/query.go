package prompts

import "strings"

// ── Table Query ──

// QueryInstructions constrains the model to a single side-effect-free
// expression over df.
const QueryInstructions = `1. Convert the query to executable Python code using Pandas.
2. The final line of code should be a Python expression that can be called with the ` + "`eval()`" + ` function.
3. The code should represent a solution to the query.
4. PRINT ONLY THE EXPRESSION.
5. Do not quote the expression.
6. Do not use statements like assignments (=) or imports. Only use expressions that return a value.
7. The dataframe is already loaded as ` + "`df`" + `. Do not try to read CSV files.`

// TableQueryTemplate is filled with {df_str}, {instruction_str} and
// {query_str}.
const TableQueryTemplate = `You are working with a pandas dataframe in Python.
The name of the dataframe is ` + "`df`" + `.
This is the result of ` + "`print(df.head())`" + `:
{df_str}

Follow these instructions:
{instruction_str}
Query: {query_str}

Examples of valid expressions:
- df['Close'].mean()
- df[df['Volume'] > 1000000]
- df.describe()
- df['Close'].iloc[-1]

Expression: `

// TableQuery renders the table query prompt for a question.
func TableQuery(head, question string) string {
	return strings.NewReplacer(
		"{df_str}", head,
		"{instruction_str}", QueryInstructions,
		"{query_str}", question,
	).Replace(TableQueryTemplate)
}
