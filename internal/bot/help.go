package bot

const helpText = `🤖 <b>To-Do Bot</b>
Your tasks and reminders, private and encrypted at rest.

<b>Tasks</b>
/add &lt;task&gt; — add a task
/add &lt;task&gt; | &lt;deadline&gt; — add a task with a deadline
/list — show your to-do list
/deadline &lt;id&gt; &lt;deadline&gt; — set a task deadline
/complete &lt;id&gt; — mark completed
/uncomplete &lt;id&gt; — mark not completed
/remove &lt;id&gt; — remove a task
/clear — remove completed tasks
/clearall — remove all tasks

<b>Reminders</b>
/remindme &lt;message&gt; | &lt;time&gt; — set a reminder
/reminders — show active reminders
/delreminder &lt;id&gt; — delete a reminder
/clearreminders — delete all reminders

<b>Time formats</b>
• relative: <code>in 30 minutes</code>, <code>in 2 hours</code>, <code>in 3 days</code>
• time of day: <code>14:30</code> (rolls to tomorrow if already passed)
• absolute: <code>2024-12-31 17:00</code>, <code>2024-12-31</code>

Tasks with a deadline get an automatic reminder 12 hours before it.`
