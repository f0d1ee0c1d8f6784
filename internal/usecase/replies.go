package usecase

import "strings"

type replyKey string

const (
	replyClarify           replyKey = "clarify"
	replyFAQUnknown        replyKey = "faq_unknown"
	replyClassesNone       replyKey = "classes_none"
	replyClassesHeader     replyKey = "classes_header"
	replyClassesFooter     replyKey = "classes_footer"
	replyReserveConfirm    replyKey = "reserve_confirm"
	replyReserveOK         replyKey = "reserve_ok"
	replyReserveBooked     replyKey = "reserve_already_booked"
	replyReserveFull       replyKey = "reserve_class_full"
	replyReserveNotFound   replyKey = "reserve_not_found"
	replyReserveFailed     replyKey = "reserve_failed"
	replyReserveDeclined   replyKey = "reserve_declined"
	replyCRMUnavailable    replyKey = "crm_unavailable"
	replyBalance           replyKey = "balance"
	replyContractsHeader   replyKey = "contracts_header"
	replyContractsNone     replyKey = "contracts_none"
	replyTicketCreated     replyKey = "ticket_created"
	replyOptOutConfirm     replyKey = "optout_confirm"
	replyOptInConfirm      replyKey = "optin_confirm"
	replyOptOutDone        replyKey = "optout_done"
	replyOptInDone         replyKey = "optin_done"
	replyConsentDeclined   replyKey = "consent_declined"
	replyStopped           replyKey = "stopped"
	replyStarted           replyKey = "started"
	replyOTPSent           replyKey = "otp_sent"
	replyOTPAlreadySent    replyKey = "otp_already_sent"
	replyOTPCooldown       replyKey = "otp_cooldown"
	replyOTPInvalid        replyKey = "otp_invalid"
	replyOTPExpired        replyKey = "otp_expired"
	replyChallengeReset    replyKey = "challenge_reset"
	replyVerified          replyKey = "verified"
	replyHandover          replyKey = "handover"
	replyNoMember          replyKey = "no_member"
	replyNoEmail           replyKey = "no_email"
	replyMailFailed        replyKey = "mail_failed"
	replyVerifyUnavailable replyKey = "verify_unavailable"
	replyLinkPrompt        replyKey = "link_prompt"
	replyLinkPending       replyKey = "link_pending"
	replyLinkInvalid       replyKey = "link_invalid"
	replyLinkOK            replyKey = "link_ok"
	ticketSubject          replyKey = "ticket_subject"
)

const fallbackLanguage = "en"

var catalog = map[string]map[replyKey]string{
	"pl": {
		replyClarify:           "Nie jestem pewien, o co chodzi. Mogę pomóc w rezerwacji zajęć, sprawdzeniu karnetu lub odpowiedzieć na pytania o studio.",
		replyFAQUnknown:        "Nie znam odpowiedzi na to pytanie. Napisz, że chcesz zgłosić sprawę, a przekażę ją do recepcji.",
		replyClassesNone:       "Nie znalazłem wolnych zajęć w tym terminie.",
		replyClassesHeader:     "Dostępne zajęcia:",
		replyClassesFooter:     "Odpisz numerem zajęć, które chcesz zarezerwować.",
		replyReserveConfirm:    "Zarezerwować {class} ({starts})? Odpisz TAK, aby potwierdzić.",
		replyReserveOK:         "Gotowe! Zarezerwowano {class} ({starts}).",
		replyReserveBooked:     "Masz już rezerwację na te zajęcia.",
		replyReserveFull:       "Niestety brak wolnych miejsc na te zajęcia.",
		replyReserveNotFound:   "Te zajęcia nie są już dostępne.",
		replyReserveFailed:     "Nie udało się zarezerwować zajęć. Skontaktuj się z recepcją.",
		replyReserveDeclined:   "W porządku, rezerwacja nie została złożona.",
		replyCRMUnavailable:    "System studia jest chwilowo niedostępny. Spróbuj ponownie za kilka minut.",
		replyBalance:           "Pozostało wejść: {credits}. Ważne do: {valid_until}.",
		replyContractsHeader:   "Twoje umowy:",
		replyContractsNone:     "Nie znalazłem aktywnych umów.",
		replyTicketCreated:     "Przekazałem Twoją wiadomość do recepcji. Odezwiemy się wkrótce.",
		replyOptOutConfirm:     "Czy na pewno chcesz zrezygnować z wiadomości marketingowych? Odpisz TAK, aby potwierdzić.",
		replyOptInConfirm:      "Czy chcesz otrzymywać wiadomości marketingowe? Odpisz TAK, aby potwierdzić.",
		replyOptOutDone:        "Wypisano Cię z wiadomości marketingowych.",
		replyOptInDone:         "Zapisano Cię do wiadomości marketingowych.",
		replyConsentDeclined:   "W porządku, niczego nie zmieniam.",
		replyStopped:           "Nie będziesz już otrzymywać wiadomości marketingowych. Napisz START, aby to zmienić.",
		replyStarted:           "Wiadomości marketingowe zostały ponownie włączone.",
		replyOTPSent:           "Wysłaliśmy kod weryfikacyjny na adres {email}. Wpisz go tutaj.",
		replyOTPAlreadySent:    "Kod został już wysłany na adres {email}. Wpisz go tutaj.",
		replyOTPCooldown:       "Kod został wysłany przed chwilą. Spróbuj ponownie za minutę.",
		replyOTPInvalid:        "Nieprawidłowy kod. Pozostało prób: {attempts}.",
		replyOTPExpired:        "Kod wygasł. Napisz ponownie, w czym mogę pomóc, a wyślę nowy.",
		replyChallengeReset:    "Weryfikacja została przerwana. Napisz, w czym mogę pomóc.",
		replyVerified:          "Dziękuję, tożsamość potwierdzona.",
		replyHandover:          "Ze względów bezpieczeństwa weryfikacja jest chwilowo zablokowana. Skontaktuj się z recepcją, pracownik chętnie pomoże.",
		replyNoMember:          "Nie znalazłem konta powiązanego z tym numerem. Skontaktuj się z recepcją.",
		replyNoEmail:           "Nie mamy Twojego adresu e-mail, więc nie mogę wysłać kodu. Poproś recepcję o jego uzupełnienie.",
		replyMailFailed:        "Nie udało się wysłać kodu. Spróbuj ponownie za chwilę.",
		replyVerifyUnavailable: "Weryfikacja jest chwilowo niedostępna. Spróbuj ponownie za kilka minut.",
		replyLinkPrompt:        "Aby kontynuować, potwierdź tożsamość w aplikacji, w której jesteś naszym klientem: {link}",
		replyLinkPending:       "Czekam na potwierdzenie tożsamości: {link}",
		replyLinkInvalid:       "Ten kod jest nieprawidłowy lub wygasł.",
		replyLinkOK:            "Dziękuję! Rozmowa na stronie została połączona z Twoim kontem.",
		ticketSubject:          "Zgłoszenie z czatu",
	},
	"en": {
		replyClarify:           "I'm not sure what you mean. I can book a class, check your pass or answer questions about the studio.",
		replyFAQUnknown:        "I don't know the answer to that. Tell me you want to report it and I'll pass it on to the front desk.",
		replyClassesNone:       "I couldn't find any open classes for that time.",
		replyClassesHeader:     "Available classes:",
		replyClassesFooter:     "Reply with the number of the class you want to book.",
		replyReserveConfirm:    "Book {class} ({starts})? Reply YES to confirm.",
		replyReserveOK:         "Done! You're booked for {class} ({starts}).",
		replyReserveBooked:     "You already have a booking for this class.",
		replyReserveFull:       "Sorry, this class is full.",
		replyReserveNotFound:   "This class is no longer available.",
		replyReserveFailed:     "I couldn't book this class. Please contact the front desk.",
		replyReserveDeclined:   "Okay, no booking was made.",
		replyCRMUnavailable:    "The studio system is temporarily unavailable. Please try again in a few minutes.",
		replyBalance:           "Entries left: {credits}. Valid until: {valid_until}.",
		replyContractsHeader:   "Your contracts:",
		replyContractsNone:     "I couldn't find any active contracts.",
		replyTicketCreated:     "I've passed your message to the front desk. We'll get back to you soon.",
		replyOptOutConfirm:     "Do you want to stop receiving marketing messages? Reply YES to confirm.",
		replyOptInConfirm:      "Do you want to receive marketing messages? Reply YES to confirm.",
		replyOptOutDone:        "You've been unsubscribed from marketing messages.",
		replyOptInDone:         "You've been subscribed to marketing messages.",
		replyConsentDeclined:   "Okay, nothing was changed.",
		replyStopped:           "You won't receive marketing messages anymore. Send START to change that.",
		replyStarted:           "Marketing messages are back on.",
		replyOTPSent:           "We sent a verification code to {email}. Enter it here.",
		replyOTPAlreadySent:    "A code was already sent to {email}. Enter it here.",
		replyOTPCooldown:       "A code was sent a moment ago. Please try again in a minute.",
		replyOTPInvalid:        "Wrong code. Attempts left: {attempts}.",
		replyOTPExpired:        "The code has expired. Tell me again what you need and I'll send a new one.",
		replyChallengeReset:    "Verification was interrupted. Tell me how I can help.",
		replyVerified:          "Thanks, you're verified.",
		replyHandover:          "For security reasons verification is temporarily locked. Please contact the front desk and a team member will help.",
		replyNoMember:          "I couldn't find an account for this number. Please contact the front desk.",
		replyNoEmail:           "We don't have your e-mail address, so I can't send a code. Please ask the front desk to add it.",
		replyMailFailed:        "I couldn't send the code. Please try again shortly.",
		replyVerifyUnavailable: "Verification is temporarily unavailable. Please try again in a few minutes.",
		replyLinkPrompt:        "To continue, confirm your identity in the app where you're our member: {link}",
		replyLinkPending:       "Waiting for you to confirm your identity: {link}",
		replyLinkInvalid:       "This code is invalid or has expired.",
		replyLinkOK:            "Thanks! The website chat is now linked to your account.",
		ticketSubject:          "Chat request",
	},
}

// render returns the catalog text for key in lang with {name} placeholders
// replaced by args given as name, value pairs.
func render(lang string, key replyKey, args ...string) string {
	texts, ok := catalog[lang]
	if !ok {
		texts = catalog[fallbackLanguage]
	}
	text, ok := texts[key]
	if !ok {
		text = catalog[fallbackLanguage][key]
	}
	if len(args) == 0 {
		return text
	}
	pairs := make([]string, 0, len(args))
	for i := 0; i+1 < len(args); i += 2 {
		pairs = append(pairs, "{"+args[i]+"}", args[i+1])
	}
	return strings.NewReplacer(pairs...).Replace(text)
}

func supportedLanguage(lang string) bool {
	_, ok := catalog[lang]
	return ok
}
