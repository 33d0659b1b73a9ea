package service

import "fmt"

func notificationEmailTemplate(title, message, dashboardURL, appName string) (string, string) {
	subject := fmt.Sprintf("%s - %s", title, appName)
	body := fmt.Sprintf(`%s

%s

View your goals: %s

Best,
The %s Team`, title, message, dashboardURL, appName)

	return subject, body
}
