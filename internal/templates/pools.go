package templates

import "fmt"

// Vars are the substitutions available to a render function.
type Vars struct {
	Name        string
	Date        string
	Time        string
	Month       string
	Year        int
	Institution string
	ClassYear   string
	Phone       string
}

// RenderFunc is a pure message template.
type RenderFunc func(v Vars) string

var weeklyPool = []RenderFunc{
	func(v Vars) string {
		return fmt.Sprintf(`📚 *Weekly Study Tip - %s*

Hey *%s*! 👋

Your challenge for this week:
✨ Read for at least *30 minutes* every day
✨ Work through *5 practice problems* per subject
✨ Go over *last week's notes* once

Steady effort wins over short bursts. 💪`, v.Date, v.Name)
	},
	func(v Vars) string {
		return fmt.Sprintf(`🎯 *Weekly Goals Reminder*

Hi *%s*!

How did this week go?
📖 Reading: ___/7 days
📝 Assignments: ___ done
🧠 New concept learned: yes/no

*Write down next week's goals today.* 🏆`, v.Name)
	},
	func(v Vars) string {
		return fmt.Sprintf(`💡 *Monday Boost*

Good morning *%s*! ☀️

_"Small efforts, repeated every day, add up."_

Pick one focus for the week:
🔹 Managing your time
🔹 The topic you find hardest
🔹 Explaining something to a classmate

You've got this! 🚀`, v.Name)
	},
	func(v Vars) string {
		return fmt.Sprintf(`📊 *Weekly Progress Check*

Hey *%s*!

Take five minutes to note down:
✅ What you learned this week
✅ What felt difficult
✅ One thing to change next week

A short journal goes a long way. 📓`, v.Name)
	},
}

var monthlyPool = []RenderFunc{
	func(v Vars) string {
		return fmt.Sprintf(`🗓️ *New Month, New Start*

Hello *%s*!

Welcome to *%s*! 🎊

This month, try to:
🎯 Set 3 clear academic goals
📚 Finish one book or one online course
💪 Keep a fixed study timetable
🤝 Join one activity at your school or college

Have a productive month! 🚀`, v.Name, v.Month)
	},
	func(v Vars) string {
		return fmt.Sprintf(`🌟 *Monthly Review - %s*

Hi *%s*!

Before the month gets going, think about:
📈 Which skill improved last month
🏆 Your biggest win
📝 What you will do differently now

Keep growing. We're proud of you! ❤️`, v.Month, v.Name)
	},
}

var yearlyPool = []RenderFunc{
	func(v Vars) string {
		return fmt.Sprintf(`🎊 *Happy New Year %d!*

Dear *%s*,

As *%d* begins, we want to celebrate your journey with us. 🌟

For the year ahead we wish you:
📚 New knowledge and curiosity
🏆 Results beyond your expectations
💪 Good health and happiness
🌈 Friendships worth remembering

*This is your year.* ✨

_Student Activity Platform Team_ 🎓`, v.Year, v.Name, v.Year)
	},
}

var testPool = []RenderFunc{
	func(v Vars) string {
		return fmt.Sprintf("🔄 *Test Message 1*\n\nHello %s! This is an automated test message. Time: %s", v.Name, v.Time)
	},
	func(v Vars) string {
		return fmt.Sprintf("⏰ *Test Message 2*\n\nHi %s! A scheduled test is running. Current time: %s", v.Name, v.Time)
	},
	func(v Vars) string {
		return fmt.Sprintf("📱 *Test Message 3*\n\n%s, this is an automated WhatsApp test. Timestamp: %s", v.Name, v.Time)
	},
	func(v Vars) string {
		return fmt.Sprintf("✅ *Test Message 4*\n\nAll good %s! System check at %s", v.Name, v.Time)
	},
	func(v Vars) string {
		return fmt.Sprintf("🔄 *Test Message 5*\n\nOne more test message for %s. Time: %s", v.Name, v.Time)
	},
	func(v Vars) string {
		return fmt.Sprintf("📊 *System Status*\n\nHello %s! Your registration is active. Time: %s", v.Name, v.Time)
	},
	func(v Vars) string {
		return fmt.Sprintf("🎯 *Test Update*\n\n%s, this is an automated update. Everything is running at %s", v.Name, v.Time)
	},
	func(v Vars) string {
		return fmt.Sprintf("⚡ *Quick Test*\n\nHi %s! Quick test message. Time: %s", v.Name, v.Time)
	},
	func(v Vars) string {
		return fmt.Sprintf("📨 *Message Received*\n\n%s, you are receiving diagnostic messages. Current time: %s", v.Name, v.Time)
	},
	func(v Vars) string {
		return fmt.Sprintf("🔄 *Loop Test*\n\nTest message #10 for %s! Time: %s", v.Name, v.Time)
	},
}

func welcome(v Vars) string {
	return fmt.Sprintf(`🎉 *Welcome to Student Activity Platform!*

Hello *%s*! 👋

You are registered. Your profile:
🏫 *Institution:* %s
📚 *Class/Year:* %s
📱 *WhatsApp:* %s

You will receive:
✅ *Weekly* updates every Monday
✅ *Monthly* goal reminders on the 1st
✅ *Yearly* greetings on New Year

_Reply STOP to unsubscribe_`, v.Name, v.Institution, v.ClassYear, v.Phone)
}
