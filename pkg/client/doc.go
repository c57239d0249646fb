/*
Package client talks to a running agent over its REST API. The CLI uses it to
submit declarations and poll task status.

	c := client.NewClient("https://localhost:8443", client.Options{InsecureSkipVerify: true})
	task, err := c.Submit(ctx, body)
	if err != nil {
		return err
	}
	task, err = c.WaitForTask(ctx, task.ID, 2*time.Second)
*/
package client
